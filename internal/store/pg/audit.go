package pg

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/store"
)

// PGAuditStore implements store.AuditStore backed by Postgres.
type PGAuditStore struct {
	db *sql.DB
}

func NewPGAuditStore(db *sql.DB) *PGAuditStore {
	return &PGAuditStore{db: db}
}

func (s *PGAuditStore) Insert(ctx context.Context, e *store.AuditEntry) error {
	if e.ID == uuid.Nil {
		e.ID = store.GenNewID()
	}
	if e.Actor == "" {
		e.Actor = "system"
	}
	e.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, resource_type, resource_id, actor, actor_id,
		 ip_address, user_agent, details, old_values, new_values, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.ID, e.Action, e.ResourceType, e.ResourceID, e.Actor, e.ActorID,
		nilStr(e.IPAddress), nilStr(e.UserAgent),
		jsonOrNil(e.Details), jsonOrNil(e.OldValues), jsonOrNil(e.NewValues), e.CreatedAt,
	)
	return err
}

func (s *PGAuditStore) Query(ctx context.Context, q store.AuditQuery) ([]store.AuditEntry, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + itoa(len(args))
	}

	if q.Action != "" {
		// "user.created" matches exactly; "user" matches the whole family.
		if strings.Contains(q.Action, ".") {
			where = append(where, "action = "+arg(q.Action))
		} else {
			where = append(where, "action LIKE "+arg(q.Action+".%"))
		}
	}
	if q.ResourceType != "" {
		where = append(where, "resource_type = "+arg(q.ResourceType))
	}
	if q.ResourceID != "" {
		where = append(where, "resource_id = "+arg(q.ResourceID))
	}
	if q.Actor != "" {
		where = append(where, "actor = "+arg(q.Actor))
	}
	if q.Since != nil {
		where = append(where, "created_at >= "+arg(*q.Since))
	}
	if q.Until != nil {
		where = append(where, "created_at <= "+arg(*q.Until))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_logs WHERE `+cond, args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	limit := arg(q.Limit)
	offset := arg(q.Offset)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, resource_type, resource_id, actor, actor_id, ip_address, user_agent,
		 details, old_values, new_values, created_at
		 FROM audit_logs WHERE `+cond+` ORDER BY created_at DESC LIMIT `+limit+` OFFSET `+offset,
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []store.AuditEntry
	for rows.Next() {
		var e store.AuditEntry
		var ip, ua *string
		var details, oldVals, newVals []byte
		if err := rows.Scan(&e.ID, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.Actor, &e.ActorID, &ip, &ua, &details, &oldVals, &newVals, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.IPAddress = derefStr(ip)
		e.UserAgent = derefStr(ua)
		e.Details = unmarshalJSONB(details)
		e.OldValues = unmarshalJSONB(oldVals)
		e.NewValues = unmarshalJSONB(newVals)
		result = append(result, e)
	}
	return result, total, rows.Err()
}

func (s *PGAuditStore) ActionSummary(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action, COUNT(*) FROM audit_logs WHERE created_at >= $1 GROUP BY action`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := make(map[string]int)
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, err
		}
		summary[action] = count
	}
	return summary, rows.Err()
}

func (s *PGAuditStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
