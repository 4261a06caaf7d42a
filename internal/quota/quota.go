// Package quota enforces token and cost limits over rolling UTC windows.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/store"
)

// DefaultAlertThresholdPercent seeds new quotas.
const DefaultAlertThresholdPercent = 80

// Service evaluates usage against per-user and global quotas.
type Service struct {
	usage store.UsageStore
	now   func() time.Time
}

func NewService(usage store.UsageStore) *Service {
	return &Service{usage: usage, now: time.Now}
}

// CheckResult is an admission decision. Reason is set when denied.
type CheckResult struct {
	Allowed bool
	Reason  string
}

// Dimension is one quota axis: tokens or cost over a window.
type Dimension struct {
	Used    float64  `json:"used"`
	Limit   *float64 `json:"limit,omitempty"`
	Percent float64  `json:"percent"`
}

// UsageStatus reports consumption against the effective quota.
type UsageStatus struct {
	QuotaID               uuid.UUID  `json:"quota_id"`
	UserID                *uuid.UUID `json:"user_id,omitempty"`
	DailyTokens           Dimension  `json:"daily_tokens"`
	MonthlyTokens         Dimension  `json:"monthly_tokens"`
	DailyCost             Dimension  `json:"daily_cost"`
	MonthlyCost           Dimension  `json:"monthly_cost"`
	AlertThresholdPercent int        `json:"alert_threshold_percent"`
}

// Alert flags a dimension at or past the alert threshold.
type Alert struct {
	Dimension  string  `json:"dimension"`
	Used       float64 `json:"used"`
	Limit      float64 `json:"limit"`
	Percent    float64 `json:"percent"`
	IsExceeded bool    `json:"is_exceeded"`
}

// windowStarts returns the UTC day and month boundaries containing now.
func (s *Service) windowStarts() (day, month time.Time) {
	now := s.now().UTC()
	day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	month = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return day, month
}

// EffectiveQuota resolves the quota that applies to a user: their own row
// when one exists, otherwise the global quota (created on first use).
func (s *Service) EffectiveQuota(ctx context.Context, userID uuid.UUID) (*store.UsageQuota, error) {
	q, err := s.usage.GetQuotaForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user quota: %w", err)
	}
	if q != nil {
		return q, nil
	}
	return s.GlobalQuota(ctx)
}

// GlobalQuota returns the workspace-wide quota, seeding an unlimited one
// if none exists yet.
func (s *Service) GlobalQuota(ctx context.Context) (*store.UsageQuota, error) {
	q, err := s.usage.GetGlobalQuota(ctx)
	if err != nil {
		return nil, fmt.Errorf("load global quota: %w", err)
	}
	if q != nil {
		return q, nil
	}
	q = &store.UsageQuota{
		ID:                    store.GenNewID(),
		AlertThresholdPercent: DefaultAlertThresholdPercent,
	}
	if err := s.usage.CreateQuota(ctx, q); err != nil {
		return nil, fmt.Errorf("seed global quota: %w", err)
	}
	return q, nil
}

type usageTotals struct {
	dailyTokens   int64
	monthlyTokens int64
	dailyCost     float64
	monthlyCost   float64
}

func (s *Service) totals(ctx context.Context) (usageTotals, error) {
	day, month := s.windowStarts()

	var t usageTotals
	var err error
	t.dailyTokens, t.dailyCost, err = s.usage.SumSince(ctx, day)
	if err != nil {
		return t, fmt.Errorf("sum daily usage: %w", err)
	}
	t.monthlyTokens, t.monthlyCost, err = s.usage.SumSince(ctx, month)
	if err != nil {
		return t, fmt.Errorf("sum monthly usage: %w", err)
	}
	return t, nil
}

// Check decides whether userID may start a new completion. Dimensions are
// evaluated daily cost, monthly cost, daily tokens, monthly tokens; the
// first breached one wins. A dimension is breached once used >= limit.
func (s *Service) Check(ctx context.Context, userID uuid.UUID) (CheckResult, error) {
	q, err := s.EffectiveQuota(ctx, userID)
	if err != nil {
		return CheckResult{}, err
	}
	t, err := s.totals(ctx)
	if err != nil {
		return CheckResult{}, err
	}

	if q.DailyCostLimit != nil && t.dailyCost >= *q.DailyCostLimit {
		return CheckResult{Reason: "Daily cost limit exceeded"}, nil
	}
	if q.MonthlyCostLimit != nil && t.monthlyCost >= *q.MonthlyCostLimit {
		return CheckResult{Reason: "Monthly cost limit exceeded"}, nil
	}
	if q.DailyTokenLimit != nil && t.dailyTokens >= *q.DailyTokenLimit {
		return CheckResult{Reason: "Daily token limit exceeded"}, nil
	}
	if q.MonthlyTokenLimit != nil && t.monthlyTokens >= *q.MonthlyTokenLimit {
		return CheckResult{Reason: "Monthly token limit exceeded"}, nil
	}
	return CheckResult{Allowed: true}, nil
}

func dimension(used float64, limit *float64) Dimension {
	d := Dimension{Used: used, Limit: limit}
	if limit != nil && *limit > 0 {
		d.Percent = used / *limit * 100
	}
	return d
}

func intLimit(l *int64) *float64 {
	if l == nil {
		return nil
	}
	v := float64(*l)
	return &v
}

// Status reports current consumption for the user's effective quota.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (*UsageStatus, error) {
	q, err := s.EffectiveQuota(ctx, userID)
	if err != nil {
		return nil, err
	}
	t, err := s.totals(ctx)
	if err != nil {
		return nil, err
	}
	return &UsageStatus{
		QuotaID:               q.ID,
		UserID:                q.UserID,
		DailyTokens:           dimension(float64(t.dailyTokens), intLimit(q.DailyTokenLimit)),
		MonthlyTokens:         dimension(float64(t.monthlyTokens), intLimit(q.MonthlyTokenLimit)),
		DailyCost:             dimension(t.dailyCost, q.DailyCostLimit),
		MonthlyCost:           dimension(t.monthlyCost, q.MonthlyCostLimit),
		AlertThresholdPercent: q.AlertThresholdPercent,
	}, nil
}

// Alerts returns the dimensions at or past the alert threshold.
func (s *Service) Alerts(ctx context.Context, userID uuid.UUID) ([]Alert, error) {
	status, err := s.Status(ctx, userID)
	if err != nil {
		return nil, err
	}

	var alerts []Alert
	add := func(name string, d Dimension) {
		if d.Limit == nil || *d.Limit <= 0 {
			return
		}
		if d.Percent < float64(status.AlertThresholdPercent) {
			return
		}
		alerts = append(alerts, Alert{
			Dimension:  name,
			Used:       d.Used,
			Limit:      *d.Limit,
			Percent:    d.Percent,
			IsExceeded: d.Percent >= 100,
		})
	}
	add("daily_cost", status.DailyCost)
	add("monthly_cost", status.MonthlyCost)
	add("daily_tokens", status.DailyTokens)
	add("monthly_tokens", status.MonthlyTokens)
	return alerts, nil
}
