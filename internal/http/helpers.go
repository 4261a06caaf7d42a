package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/across/internal/store"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("http.write_json", "error", err)
	}
}

// writeError maps the store error taxonomy onto HTTP statuses. Unknown
// errors become opaque 500s; their detail stays in the log.
func writeError(w http.ResponseWriter, err error) {
	var (
		notFound *store.NotFoundError
		valErr   *store.ValidationError
		authnErr *store.AuthenticationError
		authzErr *store.AuthorizationError
		conflict *store.ConflictError
		quotaErr *store.QuotaExceededError
		upstream *store.UpstreamError
	)
	switch {
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.As(err, &authnErr):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
	case errors.As(err, &authzErr):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &quotaErr):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": err.Error()})
	case errors.As(err, &upstream):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		slog.Error("http.internal_error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// decodeJSON reads a size-capped JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return store.NewValidation("Invalid JSON body")
	}
	return nil
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// pathID parses the {id} path segment.
func pathID(r *http.Request) (uuid.UUID, error) {
	return parsePathUUID(r, "id")
}

func parsePathUUID(r *http.Request, segment string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(segment))
	if err != nil {
		return uuid.Nil, store.NewValidation("Invalid ID in path")
	}
	return id, nil
}

func parseUUIDField(value, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, store.NewValidation("Invalid %s", field)
	}
	return id, nil
}

// clientIP prefers X-Forwarded-For (first hop) over the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
