package affiliation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue/internal/apperr"
)

var (
	ErrAffiliationNotFound = fmt.Errorf("affiliation %w", apperr.ErrNotFound)
	ErrAffiliationExists   = fmt.Errorf("affiliation already exists for doctor and facility: %w", apperr.ErrConflict)
	ErrNotApproved         = errors.New("affiliation is not approved")
)

// Repository contains all DB interactions needed by the registry.
type Repository interface {
	Create(ctx context.Context, a *Affiliation) (*Affiliation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Affiliation, error)

	// GetByPair returns the live (non-rejected) affiliation for the pair.
	GetByPair(ctx context.Context, doctorID, facilityID uuid.UUID) (*Affiliation, error)

	// UpdateStatus only succeeds while the row is still in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, by uuid.UUID, role string) (*Affiliation, error)

	// UpdateSchedule only succeeds on approved rows.
	UpdateSchedule(ctx context.Context, id uuid.UUID, upd ScheduleUpdate) (*Affiliation, error)
}
