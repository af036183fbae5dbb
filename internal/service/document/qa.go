package document

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

// QAResult is the state after a QA operation.
type QAResult struct {
	Version     domain.DocumentVersion
	Requirement *domain.DocumentRequirement
}

// RejectResult extends QAResult with what happened to the requirement.
type RejectResult struct {
	QAResult
	Code domain.RejectionCode
	// Resolicited is set when a new outreach task was created automatically.
	Resolicited *domain.PendingTask
	// Stalled reports a requirement that used up its attempts.
	Stalled bool
	// ManualAction reports a non-retryable code: someone has to look at it.
	ManualAction bool
}

// StartQA moves a pending version into QA; its requirement follows from
// received to in_qa.
func (s *Service) StartQA(ctx context.Context, ref VersionRef) (QAResult, error) {
	var res QAResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		v, doc, err := s.loadVersion(ctx, ref)
		if err != nil {
			return err
		}
		if err := v.StartQA(); err != nil {
			return err
		}
		if err := s.documents.UpdateVerification(ctx, v, domain.VerificationPending); err != nil {
			return err
		}
		res.Version = v

		req, ok, err := s.trackedRequirement(ctx, doc, v)
		if err != nil || !ok {
			return err
		}
		if req.StartQA(s.clock()) {
			if err := s.requirements.Save(ctx, req); err != nil {
				return fmt.Errorf("save requirement: %w", err)
			}
		}
		res.Requirement = &req
		return nil
	})
	if err != nil {
		return QAResult{}, err
	}

	s.log.InfoContext(ctx, "version in qa", slog.String("version_id", ref.VersionID.String()))
	return res, nil
}

// Verify records a passing QA outcome. The version update is conditional on
// the stored status still being pending or in_qa, so two reviewers cannot
// both decide.
func (s *Service) Verify(ctx context.Context, input VerifyInput) (QAResult, error) {
	if err := input.Validate(); err != nil {
		return QAResult{}, err
	}

	var res QAResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		v, doc, err := s.loadVersion(ctx, input.VersionRef)
		if err != nil {
			return err
		}
		now := s.clock()
		if err := v.Verify(input.VerifiedBy, now); err != nil {
			return err
		}
		if err := s.documents.UpdateVerification(ctx, v, domain.VerificationPending, domain.VerificationInQA); err != nil {
			return err
		}
		res.Version = v

		req, ok, err := s.trackedRequirement(ctx, doc, v)
		if err != nil || !ok {
			return err
		}
		if req.MarkVerified(v.ID, now) {
			if err := s.requirements.Save(ctx, req); err != nil {
				return fmt.Errorf("save requirement: %w", err)
			}
		}
		res.Requirement = &req
		return nil
	})
	if err != nil {
		return QAResult{}, err
	}

	s.log.InfoContext(ctx, "version verified",
		slog.String("version_id", input.VersionID.String()),
		slog.String("verified_by", input.VerifiedBy),
	)
	return res, nil
}

// Reject records a failing QA outcome with a code from the rejection table.
// A retryable code with attempts left re-solicits the document at once;
// otherwise the requirement stays rejected for manual follow-up.
func (s *Service) Reject(ctx context.Context, input RejectInput) (RejectResult, error) {
	if err := input.Validate(); err != nil {
		return RejectResult{}, err
	}
	code, ok := s.codes.Lookup(input.Code)
	if !ok {
		return RejectResult{}, domain.NewValidationError("rejection_code", fmt.Sprintf("unknown code %q", input.Code))
	}

	res := RejectResult{Code: code}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		v, doc, err := s.loadVersion(ctx, input.VersionRef)
		if err != nil {
			return err
		}
		now := s.clock()
		if err := v.Reject(code.Code, input.Reason, input.VerifiedBy, now); err != nil {
			return err
		}
		if err := s.documents.UpdateVerification(ctx, v, domain.VerificationPending, domain.VerificationInQA); err != nil {
			return err
		}
		res.Version = v

		req, ok, err := s.trackedRequirement(ctx, doc, v)
		if err != nil || !ok {
			return err
		}
		if !req.MarkRejected(code.Code, input.Reason, now) {
			res.Requirement = &req
			return nil
		}

		if code.IsRetryable && req.AttemptCount < req.MaxAttempts && req.WorkflowInstanceID != nil {
			task, err := s.createSolicitTask(ctx, req, now)
			if err != nil {
				return err
			}
			if err := req.MarkRequested(task.ID, now); err != nil {
				return err
			}
			res.Resolicited = &task
		}
		if err := s.requirements.Save(ctx, req); err != nil {
			return fmt.Errorf("save requirement: %w", err)
		}
		res.Requirement = &req
		res.Stalled = req.IsStalled()
		res.ManualAction = !code.IsRetryable || res.Stalled
		return nil
	})
	if err != nil {
		return RejectResult{}, err
	}

	attrs := []any{
		slog.String("version_id", input.VersionID.String()),
		slog.String("rejection_code", code.Code),
		slog.String("ops_message", code.OpsMessage),
		slog.Bool("resolicited", res.Resolicited != nil),
		slog.Bool("stalled", res.Stalled),
	}
	if res.Requirement != nil {
		attrs = append(attrs,
			slog.String("requirement_id", res.Requirement.ID.String()),
			slog.Int("attempt_count", res.Requirement.AttemptCount),
		)
	}
	s.log.InfoContext(ctx, "version rejected", attrs...)
	return res, nil
}

// trackedRequirement locks the requirement v answers. ok is false when there
// is none or when v was superseded by a newer version: QA on an older version
// decides that version only.
func (s *Service) trackedRequirement(ctx context.Context, doc domain.Document, v domain.DocumentVersion) (domain.DocumentRequirement, bool, error) {
	req, ok, err := s.requirementFor(ctx, doc, v)
	if err != nil || !ok {
		return domain.DocumentRequirement{}, false, err
	}
	if !req.Tracks(v.ID) {
		s.log.InfoContext(ctx, "qa on superseded version, requirement unchanged",
			slog.String("version_id", v.ID.String()),
			slog.String("requirement_id", req.ID.String()),
			slog.String("latest_version_id", req.LatestVersionID.String()),
		)
		return domain.DocumentRequirement{}, false, nil
	}
	return req, true, nil
}

func (s *Service) loadVersion(ctx context.Context, ref VersionRef) (domain.DocumentVersion, domain.Document, error) {
	v, err := s.GetVersion(ctx, ref)
	if err != nil {
		return domain.DocumentVersion{}, domain.Document{}, err
	}
	doc, err := s.documents.GetDocument(ctx, v.DocumentID)
	if err != nil {
		return domain.DocumentVersion{}, domain.Document{}, fmt.Errorf("get document: %w", err)
	}
	return v, doc, nil
}
