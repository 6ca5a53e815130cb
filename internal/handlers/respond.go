package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/supnet/relations/internal/logging"
	"github.com/supnet/relations/internal/relationship"
)

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

// respondDomainError translates the relationship error taxonomy into HTTP
// status codes.
func respondDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relationship.ErrSelfReference):
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "requester and addressee must differ"})
	case errors.Is(err, relationship.ErrNotFound):
		respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "relationship or user not found"})
	case errors.Is(err, relationship.ErrStoreUnavailable):
		respondJSON(ctx, w, http.StatusServiceUnavailable, map[string]string{"error": "storage temporarily unavailable"})
	default:
		if conflict, ok := relationship.AsConflict(err); ok {
			respondJSON(ctx, w, http.StatusConflict, map[string]string{
				"error":  "relationship conflict",
				"reason": string(conflict.Reason),
			})
			return
		}
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
