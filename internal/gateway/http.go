package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agentfabric/acf/internal/channel"
	"github.com/agentfabric/acf/internal/session"
)

// inboundPayload is the wire shape of spec.md §6's inbound envelope,
// validated at the HTTP boundary before being converted to an
// InboundMessage.
type inboundPayload struct {
	MessageID      string `json:"message_id" validate:"required"`
	TenantID       string `json:"tenant_id" validate:"required"`
	AgentID        string `json:"agent_id" validate:"required"`
	InterlocutorID string `json:"interlocutor_id" validate:"required"`
	Channel        string `json:"channel" validate:"required"`
	Content        string `json:"content" validate:"required"`
	Timestamp      int64  `json:"timestamp" validate:"required"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// HTTPHandler binds the Gateway onto an HTTP surface via chi, grounded on
// kubernaut's chi + go-playground/validator request-validation style.
type HTTPHandler struct {
	gw       *Gateway
	mutex    *session.Mutex
	validate *validator.Validate
	log      *zap.Logger
}

// NewHTTPHandler constructs an HTTPHandler. mutex is used only by the
// admin surface's force_release endpoint, never by SubmitMessage itself
// (spec.md §5 "The Gateway is lock-free").
func NewHTTPHandler(gw *Gateway, mutex *session.Mutex, log *zap.Logger) *HTTPHandler {
	return &HTTPHandler{gw: gw, mutex: mutex, validate: validator.New(), log: log}
}

// Routes returns the chi router for the public inbound surface
// (POST /v1/messages) plus the admin surface (force_release, health,
// metrics) described in SPEC_FULL.md's supplemented operations.
func (h *HTTPHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"POST", "GET"},
	}))

	r.Post("/v1/messages", h.handleSubmitMessage)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
		r.Post("/sessions/{sessionKey}/force_release", h.handleForceRelease)
	})

	return r
}

func (h *HTTPHandler) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	var p inboundPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Kind: ResponseRejected, RejectReason: "malformed request body"})
		return
	}
	if err := h.validate.Struct(p); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Kind: ResponseRejected, RejectReason: err.Error()})
		return
	}

	msg := InboundMessage{
		MessageID:      p.MessageID,
		TenantID:       p.TenantID,
		AgentID:        p.AgentID,
		InterlocutorID: p.InterlocutorID,
		Channel:        channel.Name(p.Channel),
		Content:        p.Content,
		Timestamp:      time.UnixMilli(p.Timestamp),
		IdempotencyKey: p.IdempotencyKey,
	}

	resp, err := h.gw.SubmitMessage(r.Context(), msg)
	if err != nil {
		h.log.Error("submit message failed", zap.Error(err), zap.String("message_id", msg.MessageID))
		writeJSON(w, http.StatusInternalServerError, Response{Kind: ResponseRejected, RejectReason: "internal error"})
		return
	}

	status := http.StatusOK
	if resp.Kind == ResponseRejected {
		status = http.StatusConflict
	}
	writeJSON(w, status, resp)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleForceRelease implements the admin operation (spec.md §4.1) that
// unconditionally drops a session's mutex lease — for operator use when a
// workflow instance is known to be gone (e.g. namespace-level incident
// response) and a session would otherwise sit wedged until lease expiry.
func (h *HTTPHandler) handleForceRelease(w http.ResponseWriter, r *http.Request) {
	sessionKey := chi.URLParam(r, "sessionKey")
	if err := h.mutex.ForceRelease(r.Context(), session.Key(sessionKey)); err != nil {
		h.log.Error("force release failed", zap.Error(err), zap.String("session_key", sessionKey))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "force release failed"})
		return
	}
	h.log.Warn("force released session mutex via admin API", zap.String("session_key", sessionKey))
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
