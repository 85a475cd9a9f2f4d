package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrUnknownRole = errors.New("unknown requester role")

// Resolver looks requesters up by id. A missing requester is (nil, nil).
type Resolver interface {
	GetRequester(ctx context.Context, role Role, id uuid.UUID) (*Requester, error)
}

// Directory registers the people the allocation core resolves.
type Directory interface {
	Resolver
	CreatePatient(ctx context.Context, p *Patient) error
	CreatePractitioner(ctx context.Context, p *Practitioner) error
}
