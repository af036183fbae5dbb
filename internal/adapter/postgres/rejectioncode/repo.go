// Package rejectioncode loads the rejection reason reference table.
package rejectioncode

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/taskflow-backend/internal/adapter/postgres"
	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

// Repo reads rejection_reason_codes. The table is reference data maintained by
// migrations; there are no write operations.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new rejection code repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// LoadTable reads every code and builds the immutable lookup table.
// Services receive the table once at startup.
func (r *Repo) LoadTable(ctx context.Context) (*domain.RejectionCodeTable, error) {
	rows, err := postgres.QuerierFromCtx(ctx, r.pool).Query(ctx, `
		SELECT code, category, client_message, ops_message, next_action, is_retryable
		FROM rejection_reason_codes
		ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("load rejection codes: %w", err)
	}
	defer rows.Close()

	var codes []domain.RejectionCode
	for rows.Next() {
		var c domain.RejectionCode
		if err := rows.Scan(&c.Code, &c.Category, &c.ClientMessage, &c.OpsMessage, &c.NextAction, &c.IsRetryable); err != nil {
			return nil, fmt.Errorf("scan rejection code: %w", err)
		}
		codes = append(codes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rejection codes: %w", err)
	}

	return domain.NewRejectionCodeTable(codes)
}
