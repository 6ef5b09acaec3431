package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"unicode/utf8"

	"github.com/bissquit/notify-relay/internal/pkg/ctxlog"
	"github.com/bissquit/notify-relay/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// StatusClientClosedRequest reports a dispatch cancelled by the caller.
const StatusClientClosedRequest = 499

const bodyPreviewLength = 200

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrLogNotFound, Status: http.StatusNotFound, Message: "message log not found"},
}

// Dispatcher of requests, implemented by Engine.
type dispatcherService interface {
	Dispatch(ctx context.Context, req Request) SendResult
}

// Handler handles HTTP requests for the notifications module.
type Handler struct {
	engine    dispatcherService
	logs      LogRepository
	validator *validator.Validate
}

// NewHandler creates a new notifications handler.
func NewHandler(engine dispatcherService, logs LogRepository) *Handler {
	return &Handler{
		engine:    engine,
		logs:      logs,
		validator: validator.New(),
	}
}

// RegisterRoutes registers notification routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notify", func(r chi.Router) {
		r.Post("/chat", h.SendChat)
		r.Post("/email", h.SendEmail)
		r.Post("/group-email", h.SendGroupEmail)
		r.Get("/logs/{id}", h.GetLog)
	})
}

// ContentRequest holds the fields shared by all send requests.
type ContentRequest struct {
	Subject    string             `json:"subject" validate:"max=998"`
	Body       string             `json:"body" validate:"required_without=TemplateID"`
	TemplateID string             `json:"template_id" validate:"max=200"`
	Tokens     map[string]*string `json:"tokens" validate:"max=100"`
	Locale     string             `json:"locale" validate:"omitempty,bcp47_language_tag"`
}

// ChatRequest represents request body for sending a chat message.
type ChatRequest struct {
	ContentRequest
	ChatID    string `json:"chat_id" validate:"required_without=TargetID"`
	TargetID  string `json:"target_id" validate:"omitempty,uuid"`
	ParseMode string `json:"parse_mode" validate:"omitempty,oneof=HTML MarkdownV2 Markdown"`
}

// EmailRequest represents request body for sending one email.
type EmailRequest struct {
	ContentRequest
	Email     string `json:"email" validate:"omitempty,email"`
	ContactID string `json:"contact_id" validate:"omitempty,uuid"`
}

// GroupEmailRequest represents request body for sending an email to a group.
type GroupEmailRequest struct {
	ContentRequest
	GroupID string `json:"group_id" validate:"required,uuid"`
}

// SendResponse is the body of a successful send.
type SendResponse struct {
	Message     string `json:"message"`
	LogID       string `json:"log_id"`
	Subject     string `json:"subject,omitempty"`
	BodyPreview string `json:"body_preview"`
	SentCount   int    `json:"sent_count"`
	FailedCount int    `json:"failed_count"`
	RetryCount  int    `json:"retry_count"`
}

// SendFailure is the error body of a failed send.
type SendFailure struct {
	Message    string `json:"message"`
	Stage      string `json:"stage"`
	LogID      string `json:"log_id,omitempty"`
	HTTPStatus *int   `json:"http_status,omitempty"`
	SentCount  int    `json:"sent_count"`
}

// LogResponse is the JSON form of a message log.
type LogResponse struct {
	ID           string  `json:"id"`
	Channel      string  `json:"channel"`
	TargetID     string  `json:"target_id,omitempty"`
	TargetRef    string  `json:"target_ref"`
	TemplateID   string  `json:"template_id,omitempty"`
	Subject      string  `json:"subject"`
	Body         string  `json:"body"`
	Status       string  `json:"status"`
	ErrorMessage *string `json:"error_message"`
	RetryCount   int     `json:"retry_count"`
	CreatedAt    string  `json:"created_at"`
	SentAt       *string `json:"sent_at"`
}

// SendChat handles POST /notify/chat.
func (h *Handler) SendChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}

	target := TargetRef{Kind: TargetChatID, ID: req.ChatID}
	if req.TargetID != "" {
		target = TargetRef{Kind: TargetChat, ID: req.TargetID}
	}

	dreq := req.ContentRequest.toRequest(KindChat, target)
	dreq.ParseMode = req.ParseMode
	h.dispatch(w, r, dreq)
}

// SendEmail handles POST /notify/email.
func (h *Handler) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !h.decode(w, r, &req) {
		return
	}

	target := TargetRef{Kind: TargetAddress, ID: req.Email}
	if req.ContactID != "" {
		target = TargetRef{Kind: TargetContact, ID: req.ContactID}
	}

	h.dispatch(w, r, req.ContentRequest.toRequest(KindEmail, target))
}

// SendGroupEmail handles POST /notify/group-email.
func (h *Handler) SendGroupEmail(w http.ResponseWriter, r *http.Request) {
	var req GroupEmailRequest
	if !h.decode(w, r, &req) {
		return
	}

	target := TargetRef{Kind: TargetGroup, ID: req.GroupID}
	h.dispatch(w, r, req.ContentRequest.toRequest(KindGroupEmail, target))
}

// GetLog handles GET /notify/logs/{id}.
func (h *Handler) GetLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.validator.Var(id, "uuid"); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid log id")
		return
	}

	log, err := h.logs.GetLog(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	resp := LogResponse{
		ID:           log.ID,
		Channel:      string(log.Channel),
		TargetID:     log.TargetID,
		TargetRef:    log.TargetRef,
		TemplateID:   log.TemplateID,
		Subject:      log.Subject,
		Body:         log.Body,
		Status:       log.Status.String(),
		ErrorMessage: log.ErrorMessage,
		RetryCount:   log.RetryCount,
		CreatedAt:    log.CreatedAt.UTC().Format(timeFormat),
	}
	if log.SentAt != nil {
		s := log.SentAt.UTC().Format(timeFormat)
		resp.SentAt = &s
	}

	httputil.Success(w, http.StatusOK, resp)
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		httputil.ValidationError(w, err)
		return false
	}
	return true
}

func (c ContentRequest) toRequest(kind RequestKind, target TargetRef) Request {
	return Request{
		Kind:       kind,
		Target:     target,
		Subject:    c.Subject,
		Body:       c.Body,
		TemplateID: c.TemplateID,
		Tokens:     c.Tokens,
		Locale:     c.Locale,
	}
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, req Request) {
	ctxlog.FromContext(r.Context()).Info("notification requested",
		"kind", req.Kind,
		"target", req.Target.String(),
		"caller", httputil.GetCaller(r.Context()),
		"subject_length", len(req.Subject),
		"body_length", len(req.Body),
		"template_id", req.TemplateID,
	)

	res := h.engine.Dispatch(r.Context(), req)
	if res.Success {
		httputil.Success(w, http.StatusOK, SendResponse{
			Message:     "sent",
			LogID:       res.LogID,
			Subject:     res.Subject,
			BodyPreview: preview(res.Body),
			SentCount:   res.SentCount,
			FailedCount: res.FailedCount,
			RetryCount:  res.RetryCount,
		})
		return
	}

	failure := SendFailure{
		Message:    res.Error,
		LogID:      res.LogID,
		HTTPStatus: res.HTTPStatus,
		SentCount:  res.SentCount,
	}
	if res.Stage != nil {
		failure.Stage = res.Stage.String()
	}
	httputil.JSON(w, statusForResult(res), map[string]interface{}{"error": failure})
}

// statusForResult maps a failed result to an HTTP status.
func statusForResult(res SendResult) int {
	switch {
	case res.Cancelled:
		return StatusClientClosedRequest
	case res.Stage == nil:
		return http.StatusInternalServerError
	case *res.Stage == StageValidation:
		return http.StatusBadRequest
	case *res.Stage == StageSend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func preview(body string) string {
	if utf8.RuneCountInString(body) <= bodyPreviewLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:bodyPreviewLength]) + "..."
}
