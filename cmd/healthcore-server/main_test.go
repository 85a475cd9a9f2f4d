package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthcore/healthcore/internal/config"
	"github.com/healthcore/healthcore/internal/domain/allocation"
	"github.com/healthcore/healthcore/internal/domain/identity"
	"github.com/healthcore/healthcore/internal/platform/auth"
	"github.com/healthcore/healthcore/internal/platform/idempotency"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                       "test",
		Store:                     "memory",
		AuthMode:                  "development",
		BreakerEnabled:            true,
		BreakerMaxFailures:        3,
		BreakerResetTimeout:       time.Second,
		SweepAutoCompleteInterval: time.Hour,
		SweepHorizonInterval:      time.Hour,
		SweepReminderInterval:     time.Hour,
		HorizonDays:               2,
		HorizonOpenHour:           8,
		HorizonCloseHour:          17,
		HorizonSlotMinutes:        30,
		HorizonTimezone:           "UTC",
		ReminderWindow:            24 * time.Hour,
		RequesterCacheTTL:         time.Minute,
		IdempotencyTTL:            time.Hour,
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(context.Background(), testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

// ---------------------------------------------------------------------------
// config translation
// ---------------------------------------------------------------------------

func TestHorizonPlan(t *testing.T) {
	cfg := testConfig()
	cfg.HorizonTimezone = "Europe/Berlin"

	plan, err := horizonPlan(cfg)
	if err != nil {
		t.Fatalf("horizonPlan: %v", err)
	}
	if plan.Days != 2 || plan.OpenHour != 8 || plan.CloseHour != 17 || plan.SlotMinutes != 30 {
		t.Errorf("unexpected plan %+v", plan)
	}
	if plan.Location.String() != "Europe/Berlin" {
		t.Errorf("location = %s, want Europe/Berlin", plan.Location)
	}
}

func TestHorizonPlan_BadTimezone(t *testing.T) {
	cfg := testConfig()
	cfg.HorizonTimezone = "Mars/Olympus_Mons"
	if _, err := horizonPlan(cfg); err == nil {
		t.Fatal("expected an error for an unknown timezone")
	}
	if _, err := newApp(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("newApp should refuse an unknown timezone")
	}
}

func TestBreakerPolicy(t *testing.T) {
	cfg := testConfig()
	p := breakerPolicy(cfg)
	if p.MaxFailures != 3 || p.ResetTimeout != time.Second {
		t.Errorf("configured values not applied: %+v", p)
	}
	if p.HalfOpenProbes != 1 {
		t.Errorf("HalfOpenProbes = %d, want default 1", p.HalfOpenProbes)
	}
}

func TestInitials(t *testing.T) {
	if got := initials("Intensive Care"); got != "IC" {
		t.Errorf("initials = %q, want IC", got)
	}
}

// ---------------------------------------------------------------------------
// assembled server
// ---------------------------------------------------------------------------

func TestSeed_MemoryStore(t *testing.T) {
	a := newTestApp(t)
	res, err := a.seed(context.Background())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if res.Practitioners != 3 || res.Patients != 3 || res.Wards != 2 || res.Beds != 10 || res.Equipment != 3 {
		t.Errorf("unexpected seed counts %+v", res)
	}
	if res.Slots == 0 {
		t.Error("expected the slot horizon to be generated for scheduling practitioners")
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	e := newTestApp(t).routes()

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/health = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"store":"memory"`) {
		t.Errorf("/health body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthcore_http_active_requests") {
		t.Error("expected healthcore metrics in the exposition")
	}
}

func TestServer_BookAppointmentWithReplay(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	if _, err := a.seed(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var doctor uuid.UUID
	for _, p := range a.directory.(*identity.MemoryDirectory).Practitioners() {
		if p.SchedulingParticipant {
			doctor = p.ID
			break
		}
	}
	patient := &identity.Patient{FirstName: "Edsger", LastName: "Dijkstra", Active: true}
	if err := a.directory.CreatePatient(ctx, patient); err != nil {
		t.Fatalf("create patient: %v", err)
	}

	e := a.routes()
	body := `{"patient_id":"` + patient.ID.String() + `","practitioner_id":"` + doctor.String() + `"}`
	book := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(idempotency.HeaderKey, "book-1")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	first := book()
	if first.Code != http.StatusCreated {
		t.Fatalf("first booking = %d: %s", first.Code, first.Body.String())
	}
	var appt struct {
		ID     uuid.UUID  `json:"id"`
		SlotID *uuid.UUID `json:"slot_id"`
		Status string     `json:"status"`
	}
	if err := json.Unmarshal(first.Body.Bytes(), &appt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if appt.Status != "booked" || appt.SlotID == nil {
		t.Errorf("unexpected appointment %+v", appt)
	}

	second := book()
	if second.Code != http.StatusCreated {
		t.Fatalf("replay = %d", second.Code)
	}
	if second.Header().Get(idempotency.HeaderReplayed) != "true" {
		t.Error("replayed response should carry the replay header")
	}
	if second.Body.String() != first.Body.String() {
		t.Error("replayed body differs from the original")
	}

	_, total, err := a.slots.List(ctx, allocation.RecordFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 {
		t.Errorf("records = %d, want 1", total)
	}
}

func TestServer_AdminSweeps(t *testing.T) {
	e := newTestApp(t).routes()

	tests := []struct {
		job  string
		code int
	}{
		{"autocomplete", http.StatusOK},
		{"horizon", http.StatusOK},
		{"reminders", http.StatusOK},
		{"vacuum", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.job, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/sweeps/"+tt.job, nil))
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.code, rec.Body.String())
			}
			if tt.code != http.StatusOK {
				return
			}
			var out struct {
				Job   string `json:"job"`
				Count int    `json:"count"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.Job != tt.job {
				t.Errorf("job = %q, want %q", out.Job, tt.job)
			}
		})
	}
}

func TestServer_JWTModeRejectsAnonymous(t *testing.T) {
	cfg := testConfig()
	cfg.AuthMode = "jwt"
	cfg.JWTSecret = "test-secret"
	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	e := a.routes()

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rec.Code)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "nurse-7", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Roles:            []string{"nurse"},
	})
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/sweeps/horizon", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-admin sweep status = %d, want 403", rec.Code)
	}
}
