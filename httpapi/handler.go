package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/webhooks"
)

// DefaultMaxBodyBytes caps inbound request bodies. Event payload limits are
// enforced separately by the engine; this cap only keeps a hostile body from
// being buffered whole.
const DefaultMaxBodyBytes = 1 << 20

const acknowledgedMessage = "Event acknowledged successfully"

const receivedMessage = "Webhook event received and logged successfully"

// DBPinger is the health probe seam. Both *bun.DB and *sql.DB satisfy it.
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// Handler exposes the relay over HTTP: webhook receipt, event publishing,
// and the pull inbox. Error responses carry the relay error envelope with
// the category-mapped status code.
type Handler struct {
	Service  core.RelayService
	Receiver *webhooks.Receiver
	Logger   core.Logger
	// DB, when set, is pinged by the health endpoint.
	DB DBPinger
	// MaxBodyBytes overrides DefaultMaxBodyBytes when positive.
	MaxBodyBytes int64
}

func NewHandler(service core.RelayService, receiver *webhooks.Receiver) *Handler {
	return &Handler{
		Service:  service,
		Receiver: receiver,
	}
}

// Router mounts the relay surface on a fresh mux.
func (h *Handler) Router() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", h.handleWebhook)
	mux.HandleFunc("POST /events", h.handlePublish)
	mux.HandleFunc("GET /inbox", h.handleInbox)
	mux.HandleFunc("POST /inbox/{id}/ack", h.handleAcknowledge)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	return mux
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Router().ServeHTTP(w, r)
}

type webhookResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	EventID   string    `json:"event_id"`
	Duplicate bool      `json:"duplicate,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if h.Receiver == nil {
		h.writeError(w, r, errors.New("webhook receiver is not configured"))
		return
	}

	body, err := h.readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	receipt, err := h.Receiver.Receive(r.Context(), webhooks.ReceiveRequest{
		Headers: flattenHeaders(r.Header),
		Body:    body,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Status:    receipt.Status,
		Message:   receivedMessage,
		EventID:   receipt.EventID,
		Duplicate: receipt.Duplicate,
		Timestamp: receipt.Timestamp,
	})
}

type publishRequest struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Source  string          `json:"source"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type publishResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		h.writeError(w, r, errors.New("relay service is not configured"))
		return
	}

	body, err := h.readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req publishRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, r, core.NewValidationError(
			"event body must be a JSON object",
			map[string]any{"reason": err.Error()},
		))
		return
	}

	event, err := h.Service.Publish(r.Context(), core.PublishInput{
		ID:      req.ID,
		Type:    req.Type,
		Source:  req.Source,
		Payload: []byte(req.Payload),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, publishResponse{
		ID:        event.ID,
		Status:    string(event.Status),
		Timestamp: event.CreatedAt,
	})
}

type inboxEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (h *Handler) handleInbox(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		h.writeError(w, r, errors.New("relay service is not configured"))
		return
	}

	var input core.PollInput
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, core.NewValidationError(
				"limit must be an integer",
				map[string]any{"limit": raw},
			))
			return
		}
		input.Limit = limit
	}
	input.Order = r.URL.Query().Get("order")

	events, err := h.Service.Poll(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]inboxEvent, 0, len(events))
	for _, event := range events {
		out = append(out, inboxEvent{
			ID:        event.ID,
			Type:      event.Type,
			Source:    event.Source,
			Payload:   json.RawMessage(event.Payload),
			Status:    string(event.Status),
			CreatedAt: event.CreatedAt,
			UpdatedAt: event.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type acknowledgeResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		h.writeError(w, r, errors.New("relay service is not configured"))
		return
	}

	event, err := h.Service.Acknowledge(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, acknowledgeResponse{
		ID:        event.ID,
		Status:    string(event.Status),
		Message:   acknowledgedMessage,
		UpdatedAt: event.UpdatedAt,
	})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := h.DB.PingContext(ctx); err != nil {
			if h.Logger != nil {
				h.Logger.Error("health check store ping failed", "error", err)
			}
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readBody(r *http.Request) ([]byte, error) {
	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, core.NewValidationError("failed to read request body", nil)
	}
	if int64(len(body)) > limit {
		return nil, core.NewValidationError(
			"request body exceeds size limit",
			map[string]any{"max_body_bytes": limit},
		)
	}
	return body, nil
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message  string         `json:"message"`
	TextCode string         `json:"text_code,omitempty"`
	Category string         `json:"category,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	rich := core.MapError(err)
	status := rich.Code
	if status <= 0 {
		status = http.StatusInternalServerError
	}

	if h.Logger != nil {
		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"text_code", rich.TextCode,
			"error", rich.Message,
		}
		if status >= http.StatusInternalServerError {
			h.Logger.Error("request failed", fields...)
		} else {
			h.Logger.Debug("request rejected", fields...)
		}
	}

	writeJSON(w, status, errorResponse{Error: errorDetail{
		Message:  rich.Message,
		TextCode: rich.TextCode,
		Category: string(rich.Category),
		Metadata: rich.Metadata,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func flattenHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for name, values := range header {
		if len(values) > 0 {
			flat[name] = values[0]
		}
	}
	return flat
}
