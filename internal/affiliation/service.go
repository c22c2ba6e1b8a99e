package affiliation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-queue/internal/apperr"
	"github.com/hackgods/clinic-queue/internal/auth"
)

type Service struct {
	repo                Repository
	logger              *zap.Logger
	defaultSlotDuration int
}

func NewService(repo Repository, defaultSlotDuration int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultSlotDuration <= 0 {
		defaultSlotDuration = 15
	}
	return &Service{
		repo:                repo,
		logger:              logger,
		defaultSlotDuration: defaultSlotDuration,
	}
}

// Request opens a PENDING affiliation. Either the doctor or the facility's
// admin may ask; the other side answers with Respond.
func (s *Service) Request(ctx context.Context, actor auth.Actor, doctorID, facilityID uuid.UUID, slotDuration int) (*Affiliation, error) {
	var party Party
	switch {
	case actor.IsDoctor(doctorID):
		party = PartyDoctor
	case actor.AdminOf(facilityID):
		party = PartyFacility
	default:
		return nil, fmt.Errorf("only the doctor or the facility admin may request an affiliation: %w", apperr.ErrForbidden)
	}

	if slotDuration < 0 {
		return nil, fmt.Errorf("slot duration must be positive: %w", apperr.ErrValidation)
	}
	if slotDuration == 0 {
		slotDuration = s.defaultSlotDuration
	}

	created, err := s.repo.Create(ctx, &Affiliation{
		ID:           uuid.New(),
		DoctorID:     doctorID,
		FacilityID:   facilityID,
		Status:       StatusPending,
		RequestedBy:  party,
		SlotDuration: slotDuration,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("affiliation requested",
		zap.String("affiliation_id", created.ID.String()),
		zap.String("doctor_id", doctorID.String()),
		zap.String("facility_id", facilityID.String()),
		zap.String("requested_by", string(party)),
	)
	return created, nil
}

// Respond approves or rejects a PENDING affiliation. Only the side that did
// not request it may answer.
func (s *Service) Respond(ctx context.Context, actor auth.Actor, id uuid.UUID, approve bool) (*Affiliation, error) {
	aff, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var allowed bool
	switch aff.RequestedBy {
	case PartyDoctor:
		allowed = actor.AdminOf(aff.FacilityID)
	case PartyFacility:
		allowed = actor.IsDoctor(aff.DoctorID)
	}
	if !allowed {
		return nil, fmt.Errorf("only the invited party may respond: %w", apperr.ErrForbidden)
	}

	if aff.Status != StatusPending {
		return nil, fmt.Errorf("affiliation is %s: %w", aff.Status, apperr.ErrInvalidTransition)
	}

	to := StatusRejected
	if approve {
		to = StatusApproved
	}
	return s.transition(ctx, actor, aff, StatusPending, to)
}

// Revoke ends an APPROVED affiliation. Either side may revoke.
func (s *Service) Revoke(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Affiliation, error) {
	aff, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, aff) {
		return nil, fmt.Errorf("not a party to this affiliation: %w", apperr.ErrForbidden)
	}
	if aff.Status != StatusApproved {
		return nil, fmt.Errorf("affiliation is %s: %w", aff.Status, apperr.ErrInvalidTransition)
	}
	return s.transition(ctx, actor, aff, StatusApproved, StatusRevoked)
}

func (s *Service) transition(ctx context.Context, actor auth.Actor, aff *Affiliation, from, to Status) (*Affiliation, error) {
	updated, err := s.repo.UpdateStatus(ctx, aff.ID, from, to, actor.ID, string(actor.Role))
	if err != nil {
		if errors.Is(err, ErrAffiliationNotFound) {
			// row exists but someone moved it first
			return nil, fmt.Errorf("affiliation changed concurrently: %w", apperr.ErrVersionConflict)
		}
		return nil, fmt.Errorf("update affiliation status: %w", err)
	}

	s.logger.Info("affiliation status changed",
		zap.String("affiliation_id", aff.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor_id", actor.ID.String()),
	)
	return updated, nil
}

// UpdateSchedule overwrites the schedule fields of an APPROVED affiliation.
// The doctor and the facility admin share the fields; the last write wins
// and is stamped with the writer for audit.
func (s *Service) UpdateSchedule(ctx context.Context, actor auth.Actor, id uuid.UUID, upd ScheduleUpdate) (*Affiliation, error) {
	if err := upd.validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrValidation)
	}

	aff, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, aff) {
		return nil, fmt.Errorf("not a party to this affiliation: %w", apperr.ErrForbidden)
	}
	if aff.Status != StatusApproved {
		return nil, fmt.Errorf("%w: schedule is frozen while %s: %w", ErrNotApproved, aff.Status, apperr.ErrInvalidTransition)
	}

	upd.UpdatedBy = actor.ID
	upd.UpdatedRole = string(actor.Role)

	updated, err := s.repo.UpdateSchedule(ctx, id, upd)
	if err != nil {
		if errors.Is(err, ErrAffiliationNotFound) {
			return nil, fmt.Errorf("%w: affiliation left APPROVED concurrently: %w", ErrNotApproved, apperr.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("update schedule: %w", err)
	}

	s.logger.Info("affiliation schedule updated",
		zap.String("affiliation_id", id.String()),
		zap.String("actor_id", actor.ID.String()),
		zap.String("role", string(actor.Role)),
	)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Affiliation, error) {
	aff, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, aff) && !actor.WorksAt(aff.FacilityID) {
		return nil, fmt.Errorf("not a party to this affiliation: %w", apperr.ErrForbidden)
	}
	return aff, nil
}

// GetApproved returns the APPROVED affiliation for the pair or
// ErrAffiliationNotFound.
func (s *Service) GetApproved(ctx context.Context, doctorID, facilityID uuid.UUID) (*Affiliation, error) {
	aff, err := s.repo.GetByPair(ctx, doctorID, facilityID)
	if err != nil {
		return nil, err
	}
	if aff.Status != StatusApproved {
		return nil, ErrAffiliationNotFound
	}
	return aff, nil
}

func canManage(actor auth.Actor, aff *Affiliation) bool {
	return actor.IsDoctor(aff.DoctorID) || actor.AdminOf(aff.FacilityID)
}
