package handlers

import "net/http"

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Relationships RelationshipService
	Limiter       RateLimiter
	DB            Pinger
}

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{DB: deps.DB}
	relationships := RelationshipHandler{Service: deps.Relationships, Limiter: deps.Limiter}

	mux.HandleFunc("/healthz", health.Handle)

	mux.HandleFunc("/api/v1/relationships/requests", relationships.SendRequest)
	mux.HandleFunc("/api/v1/relationships/requests/accept", relationships.Accept)
	mux.HandleFunc("/api/v1/relationships/requests/reject", relationships.Reject)
	mux.HandleFunc("/api/v1/relationships/requests/cancel", relationships.Cancel)
	mux.HandleFunc("/api/v1/relationships/requests/incoming", relationships.IncomingRequests)
	mux.HandleFunc("/api/v1/relationships/requests/outgoing", relationships.OutgoingRequests)
	mux.HandleFunc("/api/v1/relationships/remove", relationships.Remove)
	mux.HandleFunc("/api/v1/relationships/block", relationships.Block)
	mux.HandleFunc("/api/v1/relationships/unblock", relationships.Unblock)
	mux.HandleFunc("/api/v1/relationships/friends", relationships.Friends)
	mux.HandleFunc("/api/v1/relationships/friends/count", relationships.FriendsCount)
	mux.HandleFunc("/api/v1/relationships/friends/check", relationships.CheckFriends)
	mux.HandleFunc("/api/v1/relationships/status", relationships.Status)
}
