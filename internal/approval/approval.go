// Package approval gates scheduled uploads behind admin review. A viewer's
// request sits unapproved and inactive until an admin approves (activates
// and registers it) or declines (deletes it and tells the requester why).
// Admin-owned requests skip review entirely.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sql-workbench/internal/models"
	"sql-workbench/internal/store"
)

// ErrForbidden is returned when a principal lacks the role an operation
// requires.
var ErrForbidden = errors.New("forbidden")

// Store is the descriptor persistence the service drives.
type Store interface {
	CreateSchedule(ctx context.Context, p store.CreateScheduleParams) (models.ScheduleDescriptor, error)
	GetSchedule(ctx context.Context, id int64) (models.ScheduleDescriptor, error)
	SetScheduleApproved(ctx context.Context, id int64) error
	SetScheduleActive(ctx context.Context, id int64, active bool) error
	DeleteSchedule(ctx context.Context, id int64) error
}

// Registry is the scheduler surface the service keeps in sync with
// storage.
type Registry interface {
	Register(d models.ScheduleDescriptor) error
	Deregister(id int64)
}

// Emitter is the notification surface for review events.
type Emitter interface {
	ScheduleRequested(ctx context.Context, owner, table string) error
	ScheduleApproved(ctx context.Context, owner, table string) error
	ScheduleDeclined(ctx context.Context, owner, table, reason string) error
}

// Service implements the review state machine on schedule descriptors.
type Service struct {
	store    Store
	registry Registry
	emitter  Emitter
}

func NewService(st Store, registry Registry, emitter Emitter) *Service {
	return &Service{store: st, registry: registry, emitter: emitter}
}

// Request describes a new scheduled upload.
type Request struct {
	SourceType  string
	SourcePath  string
	TargetTable string
	Frequency   string
	NextRun     time.Time
	Credentials string
}

// Submit creates a descriptor for the principal. Admin requests are born
// approved and active with a live trigger; viewer requests wait for review
// and notify admins. A second request for the same (owner, table) while one
// is pending fails with store.ErrDuplicateRequest.
func (s *Service) Submit(ctx context.Context, principal models.Principal, req Request) (models.ScheduleDescriptor, error) {
	if _, ok := models.FrequencyInterval(req.Frequency); !ok && req.Frequency != models.FreqOnce {
		return models.ScheduleDescriptor{}, fmt.Errorf("unknown frequency %q", req.Frequency)
	}
	if req.NextRun.IsZero() {
		req.NextRun = time.Now().UTC()
	}

	approved := principal.IsAdmin()
	d, err := s.store.CreateSchedule(ctx, store.CreateScheduleParams{
		Owner:       principal.Username,
		SourceType:  req.SourceType,
		SourcePath:  req.SourcePath,
		TargetTable: req.TargetTable,
		Frequency:   req.Frequency,
		NextRun:     req.NextRun,
		IsActive:    approved,
		IsApproved:  approved,
		Credentials: req.Credentials,
	})
	if err != nil {
		return models.ScheduleDescriptor{}, err
	}

	if approved {
		if err := s.registry.Register(d); err != nil {
			return models.ScheduleDescriptor{}, fmt.Errorf("register schedule %d: %w", d.ID, err)
		}
	} else if err := s.emitter.ScheduleRequested(ctx, d.Owner, d.TargetTable); err != nil {
		return models.ScheduleDescriptor{}, err
	}
	return d, nil
}

// Approve transitions a pending descriptor to approved+active, registers
// its trigger, and notifies the requester. Admin only.
func (s *Service) Approve(ctx context.Context, principal models.Principal, id int64) (models.ScheduleDescriptor, error) {
	if !principal.IsAdmin() {
		return models.ScheduleDescriptor{}, fmt.Errorf("approve schedule: %w", ErrForbidden)
	}
	d, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return models.ScheduleDescriptor{}, err
	}
	if err := s.store.SetScheduleApproved(ctx, id); err != nil {
		return models.ScheduleDescriptor{}, err
	}
	d.IsApproved = true
	d.IsActive = true
	if err := s.registry.Register(d); err != nil {
		return models.ScheduleDescriptor{}, fmt.Errorf("register schedule %d: %w", id, err)
	}
	if err := s.emitter.ScheduleApproved(ctx, d.Owner, d.TargetTable); err != nil {
		return models.ScheduleDescriptor{}, err
	}
	return d, nil
}

// Decline deletes a pending descriptor and notifies the requester with the
// optional reason. Admin only. Deletion is terminal.
func (s *Service) Decline(ctx context.Context, principal models.Principal, id int64, reason string) error {
	if !principal.IsAdmin() {
		return fmt.Errorf("decline schedule: %w", ErrForbidden)
	}
	d, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.registry.Deregister(id)
	return s.emitter.ScheduleDeclined(ctx, d.Owner, d.TargetTable, reason)
}

// SetActive toggles an approved descriptor. Owners manage their own rows;
// admins manage any. Deactivation drops the live trigger, activation
// restores it.
func (s *Service) SetActive(ctx context.Context, principal models.Principal, id int64, active bool) error {
	d, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if d.Owner != principal.Username && !principal.IsAdmin() {
		return fmt.Errorf("toggle schedule: %w", ErrForbidden)
	}
	if err := s.store.SetScheduleActive(ctx, id, active); err != nil {
		return err
	}
	if !active {
		s.registry.Deregister(id)
		return nil
	}
	d.IsActive = true
	if !d.Runnable() {
		return nil
	}
	if err := s.registry.Register(d); err != nil {
		return fmt.Errorf("register schedule %d: %w", id, err)
	}
	return nil
}

// Delete removes a descriptor and its trigger. Owners delete their own
// rows; admins delete any.
func (s *Service) Delete(ctx context.Context, principal models.Principal, id int64) error {
	d, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if d.Owner != principal.Username && !principal.IsAdmin() {
		return fmt.Errorf("delete schedule: %w", ErrForbidden)
	}
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.registry.Deregister(id)
	return nil
}
