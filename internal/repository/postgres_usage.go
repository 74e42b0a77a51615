package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/cost"
)

type PostgresUsageRepository struct {
	db *sql.DB
}

func NewPostgresUsageRepository(db *sql.DB) *PostgresUsageRepository {
	return &PostgresUsageRepository{db: db}
}

func (r *PostgresUsageRepository) Record(ctx context.Context, record cost.UsageRecord) error {
	query := `
		INSERT INTO usage_records (account_uuid, provider_uuid, provider_type, model, input_tokens, output_tokens,
		                           cost_usd, latency_ms, attempts, streamed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.AccountID,
		record.ProviderID,
		record.ProviderType,
		record.Model,
		record.InputTokens,
		record.OutputTokens,
		record.CostUSD,
		record.LatencyMs,
		record.Attempts,
		record.Streamed,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	return nil
}

func (r *PostgresUsageRepository) GetAccountUsage(ctx context.Context, accountID string, since time.Time) ([]cost.UsageRecord, error) {
	query := `
		SELECT account_uuid, provider_uuid, provider_type, model, input_tokens, output_tokens,
		       cost_usd, latency_ms, attempts, streamed, created_at
		FROM usage_records
		WHERE account_uuid = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, since)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var records []cost.UsageRecord
	for rows.Next() {
		var record cost.UsageRecord
		err := rows.Scan(
			&record.AccountID,
			&record.ProviderID,
			&record.ProviderType,
			&record.Model,
			&record.InputTokens,
			&record.OutputTokens,
			&record.CostUSD,
			&record.LatencyMs,
			&record.Attempts,
			&record.Streamed,
			&record.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

func (r *PostgresUsageRepository) GetAccountTotalCost(ctx context.Context, accountID string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)::float8
		FROM usage_records
		WHERE account_uuid = $1 AND created_at >= $2
	`

	var total float64
	if err := r.db.QueryRowContext(ctx, query, accountID, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("query total cost: %w", err)
	}

	return total, nil
}
