package requirement

import (
	"github.com/Masterminds/squirrel"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

// applyFilter adds the WHERE, ORDER BY and paging clauses for f.
// f must already be normalized.
func applyFilter(qb squirrel.SelectBuilder, f domain.RequirementFilter) squirrel.SelectBuilder {
	if f.WorkflowInstanceID != nil {
		qb = qb.Where(squirrel.Eq{"workflow_instance_id": *f.WorkflowInstanceID})
	}
	if f.SubjectEntityID != nil {
		qb = qb.Where(squirrel.Eq{"subject_entity_id": *f.SubjectEntityID})
	}
	if f.DocType != nil {
		qb = qb.Where(squirrel.Eq{"doc_type": *f.DocType})
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		qb = qb.Where(squirrel.Eq{"status": statuses})
	}
	if f.ExcludeSatisfied {
		qb = qb.Where(squirrel.NotEq{"status": []string{
			string(domain.RequirementVerified), string(domain.RequirementWaived),
		}})
	}
	if f.Stalled {
		qb = qb.Where(squirrel.And{
			squirrel.Eq{"status": string(domain.RequirementRejected)},
			squirrel.Expr("attempt_count >= max_attempts"),
		})
	}
	return qb.
		OrderBy("created_at", "requirement_id").
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset))
}
