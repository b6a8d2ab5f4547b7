package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"fleetpulse/internal/dashboard"
	"fleetpulse/internal/domain"
	"fleetpulse/internal/failure"
	"fleetpulse/internal/lifecycle"
	"fleetpulse/internal/notify"
	"fleetpulse/internal/refresh"
	"fleetpulse/internal/store"
	"fleetpulse/internal/timewindow"
	"fleetpulse/internal/triage"

	"github.com/bytedance/sonic"
)

// ActorHeader carries the operator user id for mutations.
const ActorHeader = "X-User-ID"

const defaultNotificationLimit = 50

// ReadModel answers dashboard queries.
type ReadModel interface {
	Timeline(ctx context.Context, query dashboard.TimelineQuery) (dashboard.TimelineResult, error)
	Triage(ctx context.Context, filters triage.Filters) (dashboard.TriageResult, error)
	Occurrences(ctx context.Context, filters triage.Filters) (dashboard.OccurrenceResult, error)
	Activity(ctx context.Context, alertID string) ([]domain.ActivityEntry, error)
}

// Mutator applies operator actions to alerts.
type Mutator interface {
	Apply(ctx context.Context, id string, t lifecycle.Transition) (domain.Alert, error)
	CreateOccurrence(ctx context.Context, alertID, actor, description string) (domain.Occurrence, error)
}

// Refresher exposes the shared refresh routine and its freshness status.
type Refresher interface {
	Refresh(ctx context.Context) error
	Status() refresh.Status
}

// NotificationLister returns recent notifications newest first.
type NotificationLister interface {
	List(limit int) []notify.Notification
}

// Options wires the HTTP API.
// Params: read model, mutator, refresher, inbox, readiness probe, body limit,
// probe paths and logger.
// Returns: dependencies for NewHandler.
type Options struct {
	Reads         ReadModel
	Mutations     Mutator
	Refresher     Refresher
	Notifications NotificationLister
	Ready         func() bool
	MaxBodyBytes  int64
	HealthPath    string
	ReadyPath     string
	Logger        *slog.Logger
}

// Handler serves the JSON API consumed by the dashboard UI.
type Handler struct {
	reads         ReadModel
	mutations     Mutator
	refresher     Refresher
	notifications NotificationLister
	ready         func() bool
	maxBodyBytes  int64
	logger        *slog.Logger
	mux           *http.ServeMux
}

// NewHandler creates API handler with all routes registered.
// Params: options.
// Returns: handler implementing http.Handler.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	healthPath := opts.HealthPath
	if healthPath == "" {
		healthPath = "/healthz"
	}
	readyPath := opts.ReadyPath
	if readyPath == "" {
		readyPath = "/readyz"
	}

	h := &Handler{
		reads:         opts.Reads,
		mutations:     opts.Mutations,
		refresher:     opts.Refresher,
		notifications: opts.Notifications,
		ready:         opts.Ready,
		maxBodyBytes:  maxBody,
		logger:        logger,
		mux:           http.NewServeMux(),
	}

	h.mux.HandleFunc("GET "+healthPath, h.handleHealth)
	h.mux.HandleFunc("GET "+readyPath, h.handleReady)
	h.mux.HandleFunc("GET /api/timeline", h.handleTimeline)
	h.mux.HandleFunc("GET /api/alerts", h.handleAlerts)
	h.mux.HandleFunc("GET /api/alerts/{id}/activity", h.handleActivity)
	h.mux.HandleFunc("POST /api/alerts/{id}/occurrences", h.handleCreateOccurrence)
	h.mux.HandleFunc("POST /api/alerts/{id}/{action}", h.handleAction)
	h.mux.HandleFunc("GET /api/occurrences", h.handleOccurrences)
	h.mux.HandleFunc("GET /api/status", h.handleStatus)
	h.mux.HandleFunc("GET /api/notifications", h.handleNotifications)
	h.mux.HandleFunc("POST /api/refresh", h.handleRefresh)
	return h
}

// ServeHTTP dispatches request to registered route.
func (h *Handler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	h.mux.ServeHTTP(writer, request)
}

func (h *Handler) handleHealth(writer http.ResponseWriter, _ *http.Request) {
	writer.WriteHeader(http.StatusOK)
	_, _ = writer.Write([]byte("ok"))
}

func (h *Handler) handleReady(writer http.ResponseWriter, _ *http.Request) {
	if h.ready != nil && !h.ready() {
		writer.WriteHeader(http.StatusServiceUnavailable)
		_, _ = writer.Write([]byte("not ready"))
		return
	}
	writer.WriteHeader(http.StatusOK)
	_, _ = writer.Write([]byte("ready"))
}

func (h *Handler) handleTimeline(writer http.ResponseWriter, request *http.Request) {
	if h.offline(writer, "timeline") {
		return
	}
	query, err := parseTimelineQuery(request.URL.Query())
	if err != nil {
		h.writeError(writer, err)
		return
	}
	result, err := h.reads.Timeline(request.Context(), query)
	if err != nil {
		h.writeError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, result)
}

func (h *Handler) handleAlerts(writer http.ResponseWriter, request *http.Request) {
	if h.offline(writer, "alerts") {
		return
	}
	filters, err := parseFilters(request.URL.Query())
	if err != nil {
		h.writeError(writer, err)
		return
	}
	result, err := h.reads.Triage(request.Context(), filters)
	if err != nil {
		h.writeError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, result)
}

func (h *Handler) handleOccurrences(writer http.ResponseWriter, request *http.Request) {
	if h.offline(writer, "occurrences") {
		return
	}
	filters, err := parseFilters(request.URL.Query())
	if err != nil {
		h.writeError(writer, err)
		return
	}
	result, err := h.reads.Occurrences(request.Context(), filters)
	if err != nil {
		h.writeError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, result)
}

func (h *Handler) handleActivity(writer http.ResponseWriter, request *http.Request) {
	if h.offline(writer, "activity") {
		return
	}
	entries, err := h.reads.Activity(request.Context(), request.PathValue("id"))
	if err != nil {
		h.writeError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, map[string]any{"entries": entries})
}

// actionRequest is the body accepted by alert mutation endpoints.
type actionRequest struct {
	Actor       string `json:"actor"`
	Assignee    string `json:"assignee"`
	Note        string `json:"note"`
	Description string `json:"description"`
}

func (h *Handler) handleAction(writer http.ResponseWriter, request *http.Request) {
	action, err := lifecycle.ParseAction(request.PathValue("action"))
	if err != nil {
		h.writeJSON(writer, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	if h.offline(writer, string(action)) {
		return
	}
	body, err := h.decodeAction(writer, request)
	if err != nil {
		h.writeError(writer, err)
		return
	}
	alert, err := h.mutations.Apply(request.Context(), request.PathValue("id"), lifecycle.Transition{
		Action:   action,
		Actor:    body.Actor,
		Assignee: body.Assignee,
		Note:     body.Note,
	})
	if err != nil {
		h.writeError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, alert)
}

func (h *Handler) handleCreateOccurrence(writer http.ResponseWriter, request *http.Request) {
	if h.offline(writer, "create occurrence") {
		return
	}
	body, err := h.decodeAction(writer, request)
	if err != nil {
		h.writeError(writer, err)
		return
	}
	occurrence, err := h.mutations.CreateOccurrence(request.Context(), request.PathValue("id"), body.Actor, body.Description)
	if err != nil {
		h.writeError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusCreated, occurrence)
}

func (h *Handler) handleStatus(writer http.ResponseWriter, _ *http.Request) {
	h.writeJSON(writer, http.StatusOK, h.refresher.Status())
}

func (h *Handler) handleNotifications(writer http.ResponseWriter, request *http.Request) {
	limit := defaultNotificationLimit
	if raw := strings.TrimSpace(request.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(writer, badRequest("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	items := []notify.Notification{}
	if h.notifications != nil {
		items = h.notifications.List(limit)
	}
	h.writeJSON(writer, http.StatusOK, map[string]any{"notifications": items})
}

func (h *Handler) handleRefresh(writer http.ResponseWriter, request *http.Request) {
	if err := h.refresher.Refresh(request.Context()); err != nil {
		h.writeError(writer, err)
		return
	}
	h.writeJSON(writer, http.StatusOK, h.refresher.Status())
}

// decodeAction reads optional JSON body and fills actor from header.
func (h *Handler) decodeAction(writer http.ResponseWriter, request *http.Request) (actionRequest, error) {
	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodyBytes)
	defer request.Body.Close()
	raw, err := io.ReadAll(request.Body)
	if err != nil {
		return actionRequest{}, badRequest("read body: " + err.Error())
	}
	var body actionRequest
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := sonic.Unmarshal(raw, &body); err != nil {
			return actionRequest{}, badRequest("decode body: " + err.Error())
		}
	}
	if header := strings.TrimSpace(request.Header.Get(ActorHeader)); header != "" {
		body.Actor = header
	}
	if strings.TrimSpace(body.Actor) == "" {
		return actionRequest{}, badRequest("actor is required")
	}
	return body, nil
}

// offline rejects dependent requests while the connectivity signal is down.
func (h *Handler) offline(writer http.ResponseWriter, op string) bool {
	if h.refresher == nil || !h.refresher.Status().IsOffline {
		return false
	}
	h.writeError(writer, failure.Offline(op))
	return true
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (h *Handler) writeError(writer http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	if kind, ok := failure.KindOf(err); ok {
		body.Kind = string(kind)
	}
	if status >= http.StatusInternalServerError {
		h.logger.Warn("api request failed", "status", status, "error", err.Error())
	}
	h.writeJSON(writer, status, body)
}

func (h *Handler) writeJSON(writer http.ResponseWriter, status int, value any) {
	payload, err := sonic.Marshal(value)
	if err != nil {
		h.logger.Error("encode api response failed", "error", err.Error())
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_, _ = writer.Write(payload)
}

// statusFor maps failure kinds and sentinels onto HTTP status codes.
func statusFor(err error) int {
	var bad *requestError
	switch {
	case errors.As(err, &bad), errors.Is(err, timewindow.ErrUnknownPeriod):
		return http.StatusBadRequest
	case failure.Is(err, failure.KindOffline):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case failure.Is(err, failure.KindRejected):
		return http.StatusConflict
	case failure.Is(err, failure.KindTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
