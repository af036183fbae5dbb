package document

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

const (
	verbSolicit    = "document.solicit"
	verbSolicitSet = "document.solicit-set"
)

// SolicitResult is the outreach task and the requirements it serves.
type SolicitResult struct {
	Task         domain.PendingTask
	Requirements []domain.DocumentRequirement
}

type solicitArgs struct {
	SubjectEntityID *uuid.UUID `json:"subject_entity_id,omitempty"`
	DocType         string     `json:"doc_type"`
	RequirementID   uuid.UUID  `json:"requirement_id"`
}

type solicitSetArgs struct {
	SubjectEntityID uuid.UUID   `json:"subject_entity_id"`
	DocTypes        []string    `json:"doc_types"`
	RequirementIDs  []uuid.UUID `json:"requirement_ids"`
}

// Solicit asks the subject for one document: it upserts the requirement,
// opens a single-result task and moves the requirement to requested.
// A stalled requirement is refused with domain.ErrConflict.
func (s *Service) Solicit(ctx context.Context, input SolicitInput) (SolicitResult, error) {
	if err := input.Validate(); err != nil {
		return SolicitResult{}, err
	}

	var res SolicitResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := s.clock()
		req, err := s.upsertForSolicit(ctx, input.WorkflowInstanceID, input.SubjectEntityID, input.DocType, input.RequiredState, input.DueDate, now)
		if err != nil {
			return err
		}

		task, err := s.createSolicitTask(ctx, req, now)
		if err != nil {
			return err
		}
		if err := req.MarkRequested(task.ID, now); err != nil {
			return err
		}
		if err := s.requirements.Save(ctx, req); err != nil {
			return fmt.Errorf("save requirement: %w", err)
		}

		res = SolicitResult{Task: task, Requirements: []domain.DocumentRequirement{req}}
		return nil
	})
	if err != nil {
		return SolicitResult{}, err
	}

	s.log.InfoContext(ctx, "document solicited",
		slog.String("task_id", res.Task.ID.String()),
		slog.String("requirement_id", res.Requirements[0].ID.String()),
		slog.String("doc_type", input.DocType),
	)
	return res, nil
}

// SolicitSet asks for several documents with one task that expects one
// result per doc type. Every requirement moves to requested together or
// none does.
func (s *Service) SolicitSet(ctx context.Context, input SolicitSetInput) (SolicitResult, error) {
	if err := input.Validate(); err != nil {
		return SolicitResult{}, err
	}

	var res SolicitResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := s.clock()
		reqs := make([]domain.DocumentRequirement, 0, len(input.DocTypes))
		ids := make([]uuid.UUID, 0, len(input.DocTypes))
		for _, dt := range input.DocTypes {
			req, err := s.upsertForSolicit(ctx, input.WorkflowInstanceID, input.SubjectEntityID, dt, input.RequiredState, input.DueDate, now)
			if err != nil {
				return err
			}
			reqs = append(reqs, req)
			ids = append(ids, req.ID)
		}

		args, err := json.Marshal(solicitSetArgs{
			SubjectEntityID: input.SubjectEntityID,
			DocTypes:        input.DocTypes,
			RequirementIDs:  ids,
		})
		if err != nil {
			return fmt.Errorf("encode task args: %w", err)
		}
		key := strings.Join(input.DocTypes, ",")
		task, err := s.tasks.Create(ctx, domain.PendingTask{
			ID:                 uuid.Must(uuid.NewV7()),
			InstanceID:         input.WorkflowInstanceID,
			BlockerType:        domain.BlockerDocumentSet,
			BlockerKey:         &key,
			Verb:               verbSolicitSet,
			Args:               args,
			ExpectedCargoCount: len(input.DocTypes),
			Status:             domain.TaskPending,
			CreatedAt:          now,
			ExpiresAt:          input.DueDate,
		})
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}

		for i := range reqs {
			if err := reqs[i].MarkRequested(task.ID, now); err != nil {
				return err
			}
			if err := s.requirements.Save(ctx, reqs[i]); err != nil {
				return fmt.Errorf("save requirement: %w", err)
			}
		}

		res = SolicitResult{Task: task, Requirements: reqs}
		return nil
	})
	if err != nil {
		return SolicitResult{}, err
	}

	s.log.InfoContext(ctx, "document set solicited",
		slog.String("task_id", res.Task.ID.String()),
		slog.Int("expected", res.Task.ExpectedCargoCount),
	)
	return res, nil
}

// upsertForSolicit returns the locked requirement for a solicitation,
// creating it when absent. Stalled requirements are refused.
func (s *Service) upsertForSolicit(
	ctx context.Context,
	instanceID, subjectID uuid.UUID,
	docType string,
	requiredState domain.RequirementStatus,
	dueDate *time.Time,
	now time.Time,
) (domain.DocumentRequirement, error) {
	candidate := domain.NewDocumentRequirement(uuid.Must(uuid.NewV7()), docType, requiredState, now)
	candidate.WorkflowInstanceID = &instanceID
	candidate.SubjectEntityID = &subjectID
	candidate.DueDate = dueDate

	upserted, _, err := s.requirements.Upsert(ctx, candidate)
	if err != nil {
		return domain.DocumentRequirement{}, fmt.Errorf("upsert requirement: %w", err)
	}
	req, err := s.requirements.GetForUpdate(ctx, upserted.ID)
	if err != nil {
		return domain.DocumentRequirement{}, fmt.Errorf("lock requirement: %w", err)
	}

	if req.IsStalled() {
		return domain.DocumentRequirement{}, fmt.Errorf(
			"requirement %s for %s is stalled after %d attempts: %w",
			req.ID, req.DocType, req.AttemptCount, domain.ErrConflict)
	}
	if dueDate != nil {
		req.DueDate = dueDate
	}
	return req, nil
}

// createSolicitTask opens the single-document outreach task for req.
func (s *Service) createSolicitTask(ctx context.Context, req domain.DocumentRequirement, now time.Time) (domain.PendingTask, error) {
	if req.WorkflowInstanceID == nil {
		return domain.PendingTask{}, domain.NewValidationError("workflow_instance_id", "required to solicit a document")
	}

	args, err := json.Marshal(solicitArgs{
		SubjectEntityID: req.SubjectEntityID,
		DocType:         req.DocType,
		RequirementID:   req.ID,
	})
	if err != nil {
		return domain.PendingTask{}, fmt.Errorf("encode task args: %w", err)
	}

	docType := req.DocType
	task, err := s.tasks.Create(ctx, domain.PendingTask{
		ID:                 uuid.Must(uuid.NewV7()),
		InstanceID:         *req.WorkflowInstanceID,
		BlockerType:        domain.BlockerDocument,
		BlockerKey:         &docType,
		Verb:               verbSolicit,
		Args:               args,
		ExpectedCargoCount: 1,
		Status:             domain.TaskPending,
		CreatedAt:          now,
		ExpiresAt:          req.DueDate,
	})
	if err != nil {
		return domain.PendingTask{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}
