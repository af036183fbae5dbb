package document

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

// CreateRequirement upserts a requirement on (workflow instance, subject,
// doc type). An existing requirement is returned unchanged; the bool reports
// whether a new one was created.
func (s *Service) CreateRequirement(ctx context.Context, input CreateRequirementInput) (domain.DocumentRequirement, bool, error) {
	if err := input.Validate(); err != nil {
		return domain.DocumentRequirement{}, false, err
	}

	req := domain.NewDocumentRequirement(uuid.Must(uuid.NewV7()), input.DocType, input.RequiredState, s.clock())
	req.WorkflowInstanceID = input.WorkflowInstanceID
	req.SubjectEntityID = input.SubjectEntityID
	req.SubjectCBUID = input.SubjectCBUID
	req.DueDate = input.DueDate
	if input.MaxAttempts > 0 {
		req.MaxAttempts = input.MaxAttempts
	}

	got, created, err := s.requirements.Upsert(ctx, req)
	if err != nil {
		return domain.DocumentRequirement{}, false, fmt.Errorf("upsert requirement: %w", err)
	}
	if created {
		s.log.InfoContext(ctx, "requirement created",
			slog.String("requirement_id", got.ID.String()),
			slog.String("doc_type", got.DocType),
		)
	}
	return got, created, nil
}

// GetRequirement returns a requirement by ID.
func (s *Service) GetRequirement(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error) {
	return s.requirements.Get(ctx, id)
}

// ListRequirements returns a page of requirements matching f.
func (s *Service) ListRequirements(ctx context.Context, f domain.RequirementFilter) ([]domain.DocumentRequirement, error) {
	reqs, err := s.requirements.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list requirements: %w", err)
	}
	return reqs, nil
}

// MissingDocuments lists the requirements of an entity that are neither
// verified nor waived, optionally narrowed to one workflow instance.
func (s *Service) MissingDocuments(ctx context.Context, entityID uuid.UUID, instanceID *uuid.UUID) ([]domain.DocumentRequirement, error) {
	return s.ListRequirements(ctx, domain.RequirementFilter{
		SubjectEntityID:    &entityID,
		WorkflowInstanceID: instanceID,
		ExcludeSatisfied:   true,
		Limit:              domain.MaxListLimit,
	})
}

// Waive is the manual override that satisfies a requirement without a document.
func (s *Service) Waive(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error) {
	return s.transition(ctx, id, "waived", func(req *domain.DocumentRequirement) error {
		return req.Waive(s.clock())
	})
}

// Expire lapses a verified requirement so a fresh cycle can start.
func (s *Service) Expire(ctx context.Context, id uuid.UUID) (domain.DocumentRequirement, error) {
	return s.transition(ctx, id, "expired", func(req *domain.DocumentRequirement) error {
		return req.Expire(s.clock())
	})
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, name string, fn func(*domain.DocumentRequirement) error) (domain.DocumentRequirement, error) {
	var req domain.DocumentRequirement
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.requirements.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(&req); err != nil {
			return err
		}
		return s.requirements.Save(ctx, req)
	})
	if err != nil {
		return domain.DocumentRequirement{}, err
	}

	s.log.InfoContext(ctx, "requirement "+name, slog.String("requirement_id", id.String()))
	return req, nil
}
