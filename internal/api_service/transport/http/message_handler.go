package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/notisend/gateway/internal/api_service/middleware"
	"github.com/notisend/gateway/internal/notification/app"
	"github.com/notisend/gateway/internal/notification/domain"
)

// SendMessageResponse is the DTO for POST /v1/messages.
type SendMessageResponse struct {
	MessageID string               `json:"message_id"`
	Status    domain.MessageStatus `json:"status"`
	Channels  []domain.Channel     `json:"channels"`
	Created   bool                 `json:"created"`
}

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// MessageHandler serves message intake and read-back.
type MessageHandler struct {
	intake     *app.IntakeService
	dispatcher *app.Dispatcher
	logger     *slog.Logger
}

// NewMessageHandler creates a MessageHandler.
func NewMessageHandler(intake *app.IntakeService, dispatcher *app.Dispatcher, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		intake:     intake,
		dispatcher: dispatcher,
		logger:     logger.With("handler", "message"),
	}
}

// RegisterRoutes registers message routes with the given router.
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/messages", h.handleSendMessage)
	r.Get("/v1/messages/{messageID}", h.handleGetMessage)
}

func (h *MessageHandler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	project, ok := ctx.Value(middleware.AuthenticatedProjectContextKey).(middleware.AuthenticatedProject)
	if !ok || project.ID == "" {
		logger.WarnContext(ctx, "request without authenticated project")
		h.jsonError(w, "Not authenticated", nil, http.StatusUnauthorized)
		return
	}
	logger = logger.With("project_id", project.ID)

	var env domain.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		logger.WarnContext(ctx, "failed to decode envelope", "error", err)
		h.jsonError(w, "Invalid request payload", []string{err.Error()}, http.StatusBadRequest)
		return
	}

	result, err := h.intake.CreateMessage(ctx, project.ID, &env)
	if err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			details := make([]string, 0, len(validationErrs))
			for _, fe := range validationErrs {
				details = append(details, fe.Namespace()+": failed on "+fe.Tag())
			}
			h.jsonError(w, "Envelope validation failed", details, http.StatusBadRequest)
			return
		}
		if errors.Is(err, domain.ErrUnknownChannel) {
			h.jsonError(w, "Envelope validation failed", []string{err.Error()}, http.StatusBadRequest)
			return
		}
		logger.ErrorContext(ctx, "failed to create message", "error", err)
		h.jsonError(w, "Failed to accept message", nil, http.StatusInternalServerError)
		return
	}

	// Fan-out happens only for newly created messages; replays must not
	// re-enqueue. Future-scheduled messages wait for the scheduler.
	if result.Created && dueNow(result.Message.Envelope.ScheduleAt) {
		if err := h.dispatcher.Dispatch(ctx, result.Message); err != nil {
			// Accepted but not yet queued; processing failures past intake are
			// invisible to the caller and observable via read-back.
			logger.ErrorContext(ctx, "failed to dispatch message", "error", err, "message_id", result.Message.ID)
		} else {
			result.Message.Status = domain.MessageStatusQueued
		}
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, SendMessageResponse{
		MessageID: result.Message.ID,
		Status:    result.Message.Status,
		Channels:  result.Message.Envelope.Channels,
		Created:   result.Created,
	})
}

func (h *MessageHandler) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	project, ok := ctx.Value(middleware.AuthenticatedProjectContextKey).(middleware.AuthenticatedProject)
	if !ok || project.ID == "" {
		h.jsonError(w, "Not authenticated", nil, http.StatusUnauthorized)
		return
	}

	messageID := chi.URLParam(r, "messageID")
	detail, err := h.intake.GetMessage(ctx, project.ID, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			h.jsonError(w, "Message not found", nil, http.StatusNotFound)
			return
		}
		logger.ErrorContext(ctx, "failed to read message", "error", err, "message_id", messageID)
		h.jsonError(w, "Failed to read message", nil, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, detail)
}

func dueNow(scheduleAt *time.Time) bool {
	return scheduleAt == nil || !scheduleAt.After(time.Now().UTC())
}

func (h *MessageHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *MessageHandler) jsonError(w http.ResponseWriter, msg string, details []string, status int) {
	h.writeJSON(w, status, errorResponse{Error: msg, Details: details})
}
