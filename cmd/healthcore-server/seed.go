package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/healthcore/healthcore/internal/domain/admissions"
	"github.com/healthcore/healthcore/internal/domain/allocation"
	"github.com/healthcore/healthcore/internal/domain/equipment"
	"github.com/healthcore/healthcore/internal/domain/identity"
)

// seedResult counts what seed inserted.
type seedResult struct {
	Practitioners int `json:"practitioners"`
	Patients      int `json:"patients"`
	Wards         int `json:"wards"`
	Beds          int `json:"beds"`
	Equipment     int `json:"equipment"`
	Slots         int `json:"slots"`
}

var demoPractitioners = []identity.Practitioner{
	{FirstName: "Gregory", LastName: "House", Specialty: "diagnostics", SchedulingParticipant: true, Active: true},
	{FirstName: "Lisa", LastName: "Cuddy", Specialty: "endocrinology", SchedulingParticipant: true, Active: true},
	{FirstName: "James", LastName: "Wilson", Specialty: "oncology", Active: true},
}

var demoPatients = []identity.Patient{
	{FirstName: "Ada", LastName: "Lovelace", Active: true},
	{FirstName: "Alan", LastName: "Turing", Active: true},
	{FirstName: "Grace", LastName: "Hopper", Active: true},
}

var demoWards = []struct {
	name string
	beds int
}{
	{"General Medicine", 6},
	{"Intensive Care", 4},
}

var demoEquipment = []string{"Portable Ultrasound", "Infusion Pump", "ECG Monitor"}

// seed inserts demo data through the same services the API uses, then
// generates the slot horizon for the new practitioners. MRNs get a random
// suffix so the command can run more than once against one database.
func (a *app) seed(ctx context.Context) (*seedResult, error) {
	res := &seedResult{}
	batch := strings.ToUpper(uuid.NewString()[:8])

	for i := range demoPractitioners {
		p := demoPractitioners[i]
		if err := a.directory.CreatePractitioner(ctx, &p); err != nil {
			return res, err
		}
		res.Practitioners++
	}

	for i := range demoPatients {
		p := demoPatients[i]
		p.MRN = fmt.Sprintf("DEMO-%s-%03d", batch, i+1)
		if err := a.directory.CreatePatient(ctx, &p); err != nil {
			return res, err
		}
		res.Patients++
	}

	for _, dw := range demoWards {
		w := &admissions.Ward{Name: dw.name}
		if err := a.wards.CreateWard(ctx, w); err != nil {
			return res, err
		}
		res.Wards++
		for n := 1; n <= dw.beds; n++ {
			_, created, err := a.beds.CreateUnit(ctx, &allocation.Unit{OwnerID: w.ID, Label: fmt.Sprintf("%s-%02d", initials(dw.name), n)})
			if err != nil {
				return res, err
			}
			if created {
				res.Beds++
			}
		}
	}

	for _, name := range demoEquipment {
		if err := a.inventory.Register(ctx, &equipment.Equipment{Name: name}); err != nil {
			return res, err
		}
		res.Equipment++
	}

	plan, err := horizonPlan(a.cfg)
	if err != nil {
		return res, err
	}
	n, err := a.slots.SweepGenerateHorizon(ctx, plan)
	if err != nil {
		return res, err
	}
	res.Slots = n
	return res, nil
}

func initials(name string) string {
	var b strings.Builder
	for _, w := range strings.Fields(name) {
		b.WriteByte(w[0])
	}
	return b.String()
}
