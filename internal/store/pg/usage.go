package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/store"
)

// PGUsageStore implements store.UsageStore backed by Postgres.
type PGUsageStore struct {
	db *sql.DB
}

func NewPGUsageStore(db *sql.DB) *PGUsageStore {
	return &PGUsageStore{db: db}
}

func (s *PGUsageStore) LogUsage(ctx context.Context, l *store.UsageLog) error {
	if l.ID == uuid.Nil {
		l.ID = store.GenNewID()
	}
	l.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_logs (id, conversation_id, assistant_id, message_id, model, prompt_tokens, completion_tokens, total_tokens, cost_usd, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		l.ID, l.ConversationID, l.AssistantID, l.MessageID, l.Model,
		l.PromptTokens, l.CompletionTokens, l.TotalTokens, l.CostUSD, l.CreatedAt,
	)
	return err
}

func (s *PGUsageStore) SumSince(ctx context.Context, since time.Time) (int64, float64, error) {
	var tokens int64
	var cost float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM usage_logs WHERE created_at >= $1`, since,
	).Scan(&tokens, &cost)
	return tokens, cost, err
}

const quotaCols = `id, user_id, daily_token_limit, monthly_token_limit, daily_cost_limit, monthly_cost_limit, requests_per_minute, requests_per_hour, alert_threshold_percent, created_at, updated_at`

func scanQuota(row interface{ Scan(...any) error }) (*store.UsageQuota, error) {
	var q store.UsageQuota
	err := row.Scan(&q.ID, &q.UserID, &q.DailyTokenLimit, &q.MonthlyTokenLimit,
		&q.DailyCostLimit, &q.MonthlyCostLimit, &q.RequestsPerMinute, &q.RequestsPerHour,
		&q.AlertThresholdPercent, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// GetQuotaForUser returns the user-specific quota row, or nil when none
// exists (caller falls back to the global quota).
func (s *PGUsageStore) GetQuotaForUser(ctx context.Context, userID uuid.UUID) (*store.UsageQuota, error) {
	q, err := scanQuota(s.db.QueryRowContext(ctx,
		`SELECT `+quotaCols+` FROM usage_quotas WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return q, err
}

func (s *PGUsageStore) GetGlobalQuota(ctx context.Context) (*store.UsageQuota, error) {
	q, err := scanQuota(s.db.QueryRowContext(ctx,
		`SELECT `+quotaCols+` FROM usage_quotas WHERE user_id IS NULL`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return q, err
}

func (s *PGUsageStore) CreateQuota(ctx context.Context, q *store.UsageQuota) error {
	if q.ID == uuid.Nil {
		q.ID = store.GenNewID()
	}
	if q.AlertThresholdPercent <= 0 {
		q.AlertThresholdPercent = 80
	}
	now := time.Now().UTC()
	q.CreatedAt = now
	q.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_quotas (id, user_id, daily_token_limit, monthly_token_limit, daily_cost_limit, monthly_cost_limit, requests_per_minute, requests_per_hour, alert_threshold_percent, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		q.ID, q.UserID, q.DailyTokenLimit, q.MonthlyTokenLimit,
		q.DailyCostLimit, q.MonthlyCostLimit, q.RequestsPerMinute, q.RequestsPerHour,
		q.AlertThresholdPercent, now, now,
	)
	return err
}

func (s *PGUsageStore) UpdateQuota(ctx context.Context, q *store.UsageQuota) error {
	q.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE usage_quotas SET daily_token_limit=$2, monthly_token_limit=$3,
		 daily_cost_limit=$4, monthly_cost_limit=$5, requests_per_minute=$6,
		 requests_per_hour=$7, alert_threshold_percent=$8, updated_at=$9
		 WHERE id=$1`,
		q.ID, q.DailyTokenLimit, q.MonthlyTokenLimit, q.DailyCostLimit,
		q.MonthlyCostLimit, q.RequestsPerMinute, q.RequestsPerHour,
		q.AlertThresholdPercent, q.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "quota", q.ID.String())
}
