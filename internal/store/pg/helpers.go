package pg

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/nextlevelbuilder/across/internal/store"
)

func nilStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// jsonOrNil marshals m for a JSONB column, using NULL for empty maps.
func jsonOrNil(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}

func unmarshalJSONB(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

// requireRow turns a zero-row UPDATE/DELETE into a NotFoundError.
func requireRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.NewNotFound(resource, id)
	}
	return nil
}

// notFoundOr translates sql.ErrNoRows into the domain NotFoundError.
func notFoundOr(err error, resource, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.NewNotFound(resource, id)
	}
	return err
}
