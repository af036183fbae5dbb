// Package guard answers workflow guard questions against requirement state.
// It never writes.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

type requirementRepo interface {
	FindBySubject(ctx context.Context, subjectEntityID uuid.UUID, docType string, instanceID *uuid.UUID) (domain.DocumentRequirement, error)
}

// Service evaluates requirement checks and composite guards.
type Service struct {
	log          *slog.Logger
	requirements requirementRepo
	clock        func() time.Time
}

// NewService creates a new guard service.
func NewService(logger *slog.Logger, requirements requirementRepo) *Service {
	return &Service{
		log:          logger.With("service", "guard"),
		requirements: requirements,
		clock:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate reports whether one check holds. A requirement that does not
// exist yet is unmet, not an error.
func (s *Service) Evaluate(ctx context.Context, c RequirementCheck) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, err
	}
	_, ok, err := s.check(ctx, c)
	return ok, err
}

// EvaluateGuard evaluates a composite guard. all and any stop at the first
// child that decides the result.
func (s *Service) EvaluateGuard(ctx context.Context, g Guard) (bool, error) {
	if err := g.Validate(); err != nil {
		return false, err
	}
	return s.evaluate(ctx, g)
}

func (s *Service) evaluate(ctx context.Context, g Guard) (bool, error) {
	switch {
	case g.Check != nil:
		_, ok, err := s.check(ctx, *g.Check)
		return ok, err
	case len(g.All) > 0:
		for _, child := range g.All {
			ok, err := s.evaluate(ctx, child)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	default:
		for _, child := range g.Any {
			ok, err := s.evaluate(ctx, child)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// Blockers lists the unmet checks of g with a hint on how to resolve each.
// An empty result means the guard holds.
func (s *Service) Blockers(ctx context.Context, g Guard) ([]Blocker, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	blockers, err := s.blockers(ctx, g)
	if err != nil {
		return nil, err
	}
	if len(blockers) > 0 {
		s.log.DebugContext(ctx, "guard blocked", slog.Int("blockers", len(blockers)))
	}
	return blockers, nil
}

func (s *Service) blockers(ctx context.Context, g Guard) ([]Blocker, error) {
	switch {
	case g.Check != nil:
		b, ok, err := s.check(ctx, *g.Check)
		if err != nil || ok {
			return nil, err
		}
		return []Blocker{b}, nil
	case len(g.All) > 0:
		var out []Blocker
		for _, child := range g.All {
			bs, err := s.blockers(ctx, child)
			if err != nil {
				return nil, err
			}
			out = append(out, bs...)
		}
		return out, nil
	default:
		// any: one satisfied branch clears every blocker.
		var out []Blocker
		for _, child := range g.Any {
			bs, err := s.blockers(ctx, child)
			if err != nil {
				return nil, err
			}
			if len(bs) == 0 {
				return nil, nil
			}
			out = append(out, bs...)
		}
		return out, nil
	}
}

// check evaluates c and, when it does not hold, describes why.
func (s *Service) check(ctx context.Context, c RequirementCheck) (Blocker, bool, error) {
	minState := c.minState()
	req, err := s.requirements.FindBySubject(ctx, c.SubjectEntityID, c.DocType, c.WorkflowInstanceID)
	if errors.Is(err, domain.ErrNotFound) {
		return Blocker{
			Check:      c,
			Resolution: ResolutionCreateRequirement,
			Message:    fmt.Sprintf("%s requirement not created for entity", c.DocType),
		}, false, nil
	}
	if err != nil {
		return Blocker{}, false, fmt.Errorf("find requirement: %w", err)
	}

	b := Blocker{
		Check:         c,
		RequirementID: &req.ID,
		CurrentStatus: req.Status,
	}
	switch {
	case req.IsStalled():
		b.Resolution = ResolutionManualReview
		b.Message = fmt.Sprintf("%s requirement stalled after %d attempts", c.DocType, req.AttemptCount)
		return b, false, nil
	case !req.Status.Satisfies(minState):
		b.Resolution = ResolutionSolicit
		b.Message = fmt.Sprintf("%s requirement status %q does not satisfy %q", c.DocType, req.Status, minState)
		return b, false, nil
	case c.MaxAgeDays != nil && !req.SatisfiedWithin(*c.MaxAgeDays, s.clock()):
		b.Resolution = ResolutionSolicit
		b.Message = fmt.Sprintf("%s requirement satisfied too long ago (more than %d days)", c.DocType, *c.MaxAgeDays)
		return b, false, nil
	}
	return Blocker{}, true, nil
}
