package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sungwon/mailbatch/internal/ledger"
	"github.com/sungwon/mailbatch/internal/metrics"
)

// PostgresStatusRepository keeps the latest status of every message in the
// mail_status table.
type PostgresStatusRepository struct {
	db *DB
}

var (
	_ ledger.Persister = (*PostgresStatusRepository)(nil)
	_ ledger.Query     = (*PostgresStatusRepository)(nil)
)

// NewPostgresStatusRepository creates a repository over db. Call
// db.Migrate first.
func NewPostgresStatusRepository(db *DB) *PostgresStatusRepository {
	return &PostgresStatusRepository{db: db}
}

const upsertStatus = `
INSERT INTO mail_status (
    batch_id, message_key, unique_id, message_id, state, date,
    recipients, mail_type, store_ref, error_summary, error_description, failure
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (batch_id, message_key) DO UPDATE SET
    message_id        = EXCLUDED.message_id,
    state             = EXCLUDED.state,
    date              = EXCLUDED.date,
    recipients        = EXCLUDED.recipients,
    mail_type         = EXCLUDED.mail_type,
    store_ref         = EXCLUDED.store_ref,
    error_summary     = EXCLUDED.error_summary,
    error_description = EXCLUDED.error_description,
    failure           = EXCLUDED.failure`

// SaveStatus inserts or replaces the row of the status's message.
func (r *PostgresStatusRepository) SaveStatus(ctx context.Context, s ledger.Status) error {
	start := time.Now()
	defer func() {
		metrics.StatusPersistDuration.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
	}()

	recipients := s.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	_, err := r.db.Pool.Exec(ctx, upsertStatus,
		s.BatchID, messageKey(s), s.UniqueID, s.MessageID, string(s.State), s.Date,
		recipients, s.Type, s.StoreRef, s.ErrorSummary, s.ErrorDescription, string(s.Failure),
	)
	if err != nil {
		metrics.StatusPersistErrorsTotal.WithLabelValues("postgres").Inc()
		return fmt.Errorf("storage: save status %s/%s: %w", s.BatchID, s.UniqueID, err)
	}
	return nil
}

const selectStatuses = `
SELECT unique_id, message_id, batch_id, state, date,
       recipients, mail_type, store_ref, error_summary, error_description, failure
FROM mail_status
WHERE batch_id = $1 AND ($2 = '' OR state = $2)
ORDER BY date, message_key`

// ListStatuses returns the latest status of each message of a batch,
// oldest first. An empty state matches every state.
func (r *PostgresStatusRepository) ListStatuses(ctx context.Context, batchID string, state ledger.State) ([]ledger.Status, error) {
	rows, err := r.db.Pool.Query(ctx, selectStatuses, batchID, string(state))
	if err != nil {
		return nil, fmt.Errorf("storage: list statuses of %s: %w", batchID, err)
	}

	statuses, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Status, error) {
		var (
			s       ledger.Status
			state   string
			failure string
		)
		err := row.Scan(&s.UniqueID, &s.MessageID, &s.BatchID, &state, &s.Date,
			&s.Recipients, &s.Type, &s.StoreRef, &s.ErrorSummary, &s.ErrorDescription, &failure)
		s.State = ledger.State(state)
		s.Failure = ledger.Failure(failure)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan statuses of %s: %w", batchID, err)
	}
	return statuses, nil
}
