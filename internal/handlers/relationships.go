package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/supnet/relations/internal/logging"
	"github.com/supnet/relations/internal/models"
)

// RelationshipHandler exposes the relationship service over HTTP.
type RelationshipHandler struct {
	Service RelationshipService
	Limiter RateLimiter
}

type sendRequestPayload struct {
	RequesterID string `json:"requesterId"`
	AddresseeID string `json:"addresseeId"`
}

type respondRequestPayload struct {
	UserID   string `json:"userId"`
	FriendID string `json:"friendId"`
}

type blockPayload struct {
	UserID   string `json:"userId"`
	TargetID string `json:"targetId"`
}

type relationshipPayload struct {
	ID          string     `json:"id"`
	RequesterID string     `json:"requesterId"`
	AddresseeID string     `json:"addresseeId"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

type relationshipResponse struct {
	Relationship relationshipPayload `json:"relationship"`
}

type relationshipListResponse struct {
	Relationships []relationshipPayload `json:"relationships"`
}

type friendsPageResponse struct {
	Items      []friendRefPayload `json:"items"`
	TotalCount int64              `json:"totalCount"`
}

type friendRefPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type pairStatusResponse struct {
	Status            string `json:"status,omitempty"`
	IsOutgoingRequest bool   `json:"isOutgoingRequest"`
}

type friendsCountResponse struct {
	Count int64 `json:"count"`
}

type areFriendsResponse struct {
	Friends bool `json:"friends"`
}

func toRelationshipPayload(rel models.Relationship) relationshipPayload {
	return relationshipPayload{
		ID:          rel.ID,
		RequesterID: rel.RequesterID,
		AddresseeID: rel.AddresseeID,
		Status:      string(rel.Status),
		CreatedAt:   rel.CreatedAt,
		UpdatedAt:   rel.UpdatedAt,
	}
}

// SendRequest handles POST /api/v1/relationships/requests.
func (h RelationshipHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	ctx, payload, ok := h.decodeMutation(w, r, "relationships")
	if !ok {
		return
	}

	var req sendRequestPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.RequesterID == "" || req.AddresseeID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "requesterId and addresseeId are required"})
		return
	}

	rel, err := h.Service.SendFriendRequest(ctx, req.RequesterID, req.AddresseeID)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusCreated, relationshipResponse{Relationship: toRelationshipPayload(rel)})
}

// Accept handles POST /api/v1/relationships/requests/accept.
func (h RelationshipHandler) Accept(w http.ResponseWriter, r *http.Request) {
	ctx, payload, ok := h.decodeMutation(w, r, "relationships")
	if !ok {
		return
	}

	var req respondRequestPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.UserID == "" || req.FriendID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "userId and friendId are required"})
		return
	}

	rel, err := h.Service.AcceptFriendRequest(ctx, req.UserID, req.FriendID)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, relationshipResponse{Relationship: toRelationshipPayload(rel)})
}

// Reject handles POST /api/v1/relationships/requests/reject.
func (h RelationshipHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.pairMutation(w, r, func(req respondRequestPayload) error {
		return h.Service.RejectFriendRequest(r.Context(), req.UserID, req.FriendID)
	})
}

// Cancel handles POST /api/v1/relationships/requests/cancel. The caller is
// the requester withdrawing their own pending request.
func (h RelationshipHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.pairMutation(w, r, func(req respondRequestPayload) error {
		return h.Service.CancelFriendRequest(r.Context(), req.UserID, req.FriendID)
	})
}

// Remove handles POST /api/v1/relationships/remove.
func (h RelationshipHandler) Remove(w http.ResponseWriter, r *http.Request) {
	h.pairMutation(w, r, func(req respondRequestPayload) error {
		return h.Service.RemoveFriend(r.Context(), req.UserID, req.FriendID)
	})
}

// Block handles POST /api/v1/relationships/block.
func (h RelationshipHandler) Block(w http.ResponseWriter, r *http.Request) {
	ctx, payload, ok := h.decodeMutation(w, r, "relationships")
	if !ok {
		return
	}

	var req blockPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.UserID == "" || req.TargetID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "userId and targetId are required"})
		return
	}

	if err := h.Service.BlockUser(ctx, req.UserID, req.TargetID); err != nil {
		respondDomainError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Unblock handles POST /api/v1/relationships/unblock.
func (h RelationshipHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	ctx, payload, ok := h.decodeMutation(w, r, "relationships")
	if !ok {
		return
	}

	var req blockPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.UserID == "" || req.TargetID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "userId and targetId are required"})
		return
	}

	if err := h.Service.UnblockUser(ctx, req.UserID, req.TargetID); err != nil {
		respondDomainError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Friends handles GET /api/v1/relationships/friends.
func (h RelationshipHandler) Friends(w http.ResponseWriter, r *http.Request) {
	ctx, userID, ok := h.queryUser(w, r)
	if !ok {
		return
	}

	offset := parseIntParam(r, "offset", 0)
	limit := parseIntParam(r, "limit", 0)

	page, err := h.Service.GetFriendsPage(ctx, userID, offset, limit)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}

	items := make([]friendRefPayload, 0, len(page.Items))
	for _, ref := range page.Items {
		items = append(items, friendRefPayload{ID: ref.ID, DisplayName: ref.DisplayName})
	}

	respondJSON(ctx, w, http.StatusOK, friendsPageResponse{Items: items, TotalCount: page.TotalCount})
}

// FriendsCount handles GET /api/v1/relationships/friends/count.
func (h RelationshipHandler) FriendsCount(w http.ResponseWriter, r *http.Request) {
	ctx, userID, ok := h.queryUser(w, r)
	if !ok {
		return
	}

	count, err := h.Service.GetFriendsCount(ctx, userID)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, friendsCountResponse{Count: count})
}

// CheckFriends handles GET /api/v1/relationships/friends/check.
func (h RelationshipHandler) CheckFriends(w http.ResponseWriter, r *http.Request) {
	ctx, userID, ok := h.queryUser(w, r)
	if !ok {
		return
	}

	other := r.URL.Query().Get("other")
	if other == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "other query parameter is required"})
		return
	}

	friends, err := h.Service.AreFriends(ctx, userID, other)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, areFriendsResponse{Friends: friends})
}

// Status handles GET /api/v1/relationships/status.
func (h RelationshipHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, userID, ok := h.queryUser(w, r)
	if !ok {
		return
	}

	other := r.URL.Query().Get("other")
	if other == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "other query parameter is required"})
		return
	}

	status, err := h.Service.GetFriendshipStatus(ctx, userID, other)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, pairStatusResponse{
		Status:            string(status.Status),
		IsOutgoingRequest: status.IsOutgoingRequest,
	})
}

// IncomingRequests handles GET /api/v1/relationships/requests/incoming.
func (h RelationshipHandler) IncomingRequests(w http.ResponseWriter, r *http.Request) {
	h.listRequests(w, r, h.Service.GetIncomingRequests)
}

// OutgoingRequests handles GET /api/v1/relationships/requests/outgoing.
func (h RelationshipHandler) OutgoingRequests(w http.ResponseWriter, r *http.Request) {
	h.listRequests(w, r, h.Service.GetOutgoingRequests)
}

func (h RelationshipHandler) listRequests(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, userID string) ([]models.Relationship, error)) {
	ctx, userID, ok := h.queryUser(w, r)
	if !ok {
		return
	}

	rels, err := list(ctx, userID)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}

	payload := make([]relationshipPayload, 0, len(rels))
	for _, rel := range rels {
		payload = append(payload, toRelationshipPayload(rel))
	}

	respondJSON(ctx, w, http.StatusOK, relationshipListResponse{Relationships: payload})
}

// pairMutation factors the POST endpoints that take (userId, friendId) and
// return 204 on success.
func (h RelationshipHandler) pairMutation(w http.ResponseWriter, r *http.Request, apply func(req respondRequestPayload) error) {
	ctx, payload, ok := h.decodeMutation(w, r, "relationships")
	if !ok {
		return
	}

	var req respondRequestPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.UserID == "" || req.FriendID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "userId and friendId are required"})
		return
	}

	if err := apply(req); err != nil {
		respondDomainError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// decodeMutation performs the shared preamble of every mutating endpoint:
// method check, dependency check, rate limit, and body read.
func (h RelationshipHandler) decodeMutation(w http.ResponseWriter, r *http.Request, scope string) (ctx context.Context, body []byte, ok bool) {
	ctx = r.Context()

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return ctx, nil, false
	}

	if h.Service == nil {
		logging.FromContext(ctx).Error("relationship service unavailable")
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "relationship service unavailable"})
		return ctx, nil, false
	}

	if !allowRequest(h.Limiter, r, scope) {
		respondJSON(ctx, w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
		return ctx, nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return ctx, nil, false
	}

	return ctx, body, true
}

func (h RelationshipHandler) queryUser(w http.ResponseWriter, r *http.Request) (context.Context, string, bool) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return ctx, "", false
	}

	if h.Service == nil {
		logging.FromContext(ctx).Error("relationship service unavailable")
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "relationship service unavailable"})
		return ctx, "", false
	}

	userID := r.URL.Query().Get("user")
	if userID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "user query parameter is required"})
		return ctx, "", false
	}

	return ctx, userID, true
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
