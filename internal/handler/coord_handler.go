package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"coord-service/internal/audit"
	"coord-service/internal/command"
	"coord-service/internal/models"
	"coord-service/internal/stats"
	"coord-service/internal/util"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, inv models.Invocation) command.Result
}

type Moderator interface {
	Suspend(ctx context.Context, userID int64, reason string) error
	Unsuspend(ctx context.Context, userID int64) error
	RecordVote(ctx context.Context, userID int64) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, recipientID int64, payload string) (models.Envelope, error)
}

type Roller interface {
	Rollup(ctx context.Context) (models.GlobalStats, error)
}

type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]stats.HistoryPoint, error)
}

type CommandLog interface {
	RecentForUser(ctx context.Context, userID int64, limit int) ([]audit.Event, error)
}

// SecretChecker validates a shared secret presented in the Authorization
// header.
type SecretChecker interface {
	Verify(secret string) bool
}

// CoordHandler serves the gateway ingress and the operator endpoints.
// History and Commands may be nil when their backends are disabled.
// Ingress, notification and account routes require the operator secret once
// WithOperatorAuth is set.
type CoordHandler struct {
	dispatcher Dispatcher
	accounts   Moderator
	queue      Enqueuer
	stats      Roller
	history    HistoryReader
	commands   CommandLog
	voteAuth   SecretChecker
	operator   SecretChecker
	logger     *zap.Logger
	inflight   sync.WaitGroup
}

func NewCoordHandler(dispatcher Dispatcher, accounts Moderator, queue Enqueuer, roller Roller, history HistoryReader, commands CommandLog, logger *zap.Logger) *CoordHandler {
	return &CoordHandler{
		dispatcher: dispatcher,
		accounts:   accounts,
		queue:      queue,
		stats:      roller,
		history:    history,
		commands:   commands,
		logger:     logger,
	}
}

// WithVoteAuth requires the vote webhook to present a secret accepted by c.
func (h *CoordHandler) WithVoteAuth(c SecretChecker) *CoordHandler {
	h.voteAuth = c
	return h
}

// WithOperatorAuth requires "Authorization: Bearer <secret>" accepted by c
// on the gateway ingress and moderation routes.
func (h *CoordHandler) WithOperatorAuth(c SecretChecker) *CoordHandler {
	h.operator = c
	return h
}

func (h *CoordHandler) RegisterRoutes(router chi.Router) {
	router.With(h.requireOperatorSecret).Post("/invocations", h.Invoke)
	router.With(h.requireOperatorSecret).Post("/notifications", h.Notify)
	router.With(h.requireVoteSecret).Post("/votes", h.RecordVote)

	router.Route("/stats", func(r chi.Router) {
		r.Get("/", h.GetStats)
		r.Get("/history", h.GetStatsHistory)
	})

	router.Route("/accounts/{userID}", func(r chi.Router) {
		r.Use(h.requireOperatorSecret)
		r.Post("/suspend", h.Suspend)
		r.Post("/unsuspend", h.Unsuspend)
		r.Get("/commands", h.GetRecentCommands)
	})
}

// Wait blocks until every accepted invocation has been dispatched.
func (h *CoordHandler) Wait() {
	h.inflight.Wait()
}

// Invoke accepts an invocation from the gateway sidecar. Dispatch may wait
// on an interactive prompt, so it continues after the response is written.
func (h *CoordHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	var inv models.Invocation
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		respondWithError(h.logger, w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if inv.UserID <= 0 || inv.Content == "" {
		respondWithError(h.logger, w, http.StatusBadRequest, ErrInvalidInput, "user_id and content are required")
		return
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	ctx := context.WithoutCancel(r.Context())
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		res := h.dispatcher.Dispatch(ctx, inv)
		h.logger.Debug("Invocation dispatched",
			util.String("invocation_id", inv.ID),
			util.String("command", res.Command),
			util.String("status", res.Status.String()))
	}()

	respondWithJSON(h.logger, w, http.StatusAccepted, successResponse(map[string]string{"id": inv.ID}, "Invocation accepted"))
}

type notifyRequest struct {
	RecipientID int64  `json:"recipient_id"`
	Payload     string `json:"payload"`
}

func (h *CoordHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(h.logger, w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.RecipientID <= 0 || req.Payload == "" {
		respondWithError(h.logger, w, http.StatusBadRequest, ErrInvalidInput, "recipient_id and payload are required")
		return
	}

	env, err := h.queue.Enqueue(r.Context(), req.RecipientID, req.Payload)
	if err != nil {
		respondWithError(h.logger, w, getStatusCode(err), err, "Failed to enqueue notification")
		return
	}
	respondWithJSON(h.logger, w, http.StatusAccepted, successResponse(env, "Notification queued"))
}

func (h *CoordHandler) requireVoteSecret(next http.Handler) http.Handler {
	if h.voteAuth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.voteAuth.Verify(r.Header.Get("Authorization")) {
			respondWithError(h.logger, w, http.StatusUnauthorized, ErrUnauthorized, "Invalid webhook secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *CoordHandler) requireOperatorSecret(next http.Handler) http.Handler {
	if h.operator == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" || !h.operator.Verify(token) {
			h.logger.Warn("Rejected operator request",
				util.String("path", r.URL.Path),
				util.String("remote_addr", r.RemoteAddr))
			respondWithError(h.logger, w, http.StatusUnauthorized, ErrUnauthorized, "Invalid operator credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type voteRequest struct {
	UserID int64 `json:"user_id"`
}

// RecordVote is the bot list webhook.
func (h *CoordHandler) RecordVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(h.logger, w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.UserID <= 0 {
		respondWithError(h.logger, w, http.StatusBadRequest, ErrInvalidInput, "user_id is required")
		return
	}

	if err := h.accounts.RecordVote(r.Context(), req.UserID); err != nil {
		respondWithError(h.logger, w, getStatusCode(err), err, "Failed to record vote")
		return
	}
	respondWithJSON(h.logger, w, http.StatusOK, successResponse(nil, "Vote recorded"))
}

type suspendRequest struct {
	Reason string `json:"reason"`
}

func (h *CoordHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		respondWithError(h.logger, w, http.StatusBadRequest, err, "Invalid user ID format")
		return
	}

	var req suspendRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(h.logger, w, http.StatusBadRequest, err, "Invalid request body")
			return
		}
	}

	if err := h.accounts.Suspend(r.Context(), userID, req.Reason); err != nil {
		respondWithError(h.logger, w, getStatusCode(err), err, "Failed to suspend account")
		return
	}
	respondWithJSON(h.logger, w, http.StatusOK, successResponse(nil, "Account suspended"))
	h.logger.Warn("Account suspended via HTTP",
		util.UserID(userID),
		util.String("reason", req.Reason))
}

func (h *CoordHandler) Unsuspend(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		respondWithError(h.logger, w, http.StatusBadRequest, err, "Invalid user ID format")
		return
	}

	if err := h.accounts.Unsuspend(r.Context(), userID); err != nil {
		respondWithError(h.logger, w, getStatusCode(err), err, "Failed to unsuspend account")
		return
	}
	respondWithJSON(h.logger, w, http.StatusOK, successResponse(nil, "Account unsuspended"))
}

type statsView struct {
	models.GlobalStats
	AverageLatencyMS int64 `json:"average_latency_ms"`
}

func (h *CoordHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	g, err := h.stats.Rollup(r.Context())
	if err != nil {
		respondWithError(h.logger, w, getStatusCode(err), err, "Failed to compute rollup")
		return
	}
	view := statsView{GlobalStats: g, AverageLatencyMS: g.AverageLatency().Milliseconds()}
	respondWithJSON(h.logger, w, http.StatusOK, successResponse(view, "Stats retrieved successfully"))
}

func (h *CoordHandler) GetStatsHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		respondWithError(h.logger, w, http.StatusNotImplemented, ErrUnavailable, "Stats history is not enabled")
		return
	}
	points, err := h.history.Recent(r.Context(), limitParam(r, 288, 2016))
	if err != nil {
		respondWithError(h.logger, w, getStatusCode(err), err, "Failed to read stats history")
		return
	}
	respondWithJSON(h.logger, w, http.StatusOK, successResponse(points, fmt.Sprintf("%d points", len(points))))
}

func (h *CoordHandler) GetRecentCommands(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		respondWithError(h.logger, w, http.StatusBadRequest, err, "Invalid user ID format")
		return
	}
	if h.commands == nil {
		respondWithError(h.logger, w, http.StatusNotImplemented, ErrUnavailable, "Command log is not enabled")
		return
	}

	events, err := h.commands.RecentForUser(r.Context(), userID, limitParam(r, 25, 100))
	if err != nil {
		respondWithError(h.logger, w, getStatusCode(err), err, "Failed to read command log")
		return
	}
	respondWithJSON(h.logger, w, http.StatusOK, successResponse(events, fmt.Sprintf("%d commands", len(events))))
}
