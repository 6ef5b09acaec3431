package directory

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bissquit/notify-relay/internal/domain"
	"github.com/bissquit/notify-relay/internal/notifications"
	"github.com/bissquit/notify-relay/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: notifications.ErrTargetNotFound, Status: http.StatusNotFound, Message: "target not found"},
	{Error: notifications.ErrTemplateNotFound, Status: http.StatusNotFound},
	{Error: ErrGroupNotFound, Status: http.StatusNotFound},
	{Error: ErrMemberNotFound, Status: http.StatusNotFound},
	{Error: ErrParentNotFound, Status: http.StatusBadRequest},
	{Error: ErrInvalidAddress, Status: http.StatusBadRequest},
	{Error: ErrNotContact, Status: http.StatusBadRequest},
	{Error: ErrTemplateCodeExists, Status: http.StatusConflict},
}

// Handler handles HTTP requests for the directory module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new directory handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers directory routes (require auth).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/targets", func(r chi.Router) {
		r.Get("/", h.ListTargets)
		r.Post("/", h.CreateTarget)
		r.Get("/{id}", h.GetTarget)
		r.Post("/{id}/activate", h.activateTarget(true))
		r.Post("/{id}/deactivate", h.activateTarget(false))
	})

	r.Route("/templates", func(r chi.Router) {
		r.Get("/", h.ListTemplates)
		r.Post("/", h.CreateTemplate)
		r.Get("/{idOrCode}", h.GetTemplate)
		r.Delete("/{idOrCode}", h.DeleteTemplate)
	})

	r.Route("/groups", func(r chi.Router) {
		r.Get("/", h.ListGroups)
		r.Post("/", h.CreateGroup)
		r.Get("/{id}", h.GetGroup)
		r.Post("/{id}/activate", h.activateGroup(true))
		r.Post("/{id}/deactivate", h.activateGroup(false))
		r.Get("/{id}/members", h.ListGroupMembers)
		r.Put("/{id}/members/{targetId}", h.AddGroupMember)
		r.Delete("/{id}/members/{targetId}", h.RemoveGroupMember)
		r.Get("/{id}/recipients", h.GroupRecipients)
	})
}

// CreateTargetRequest represents the request body for creating a target.
type CreateTargetRequest struct {
	Type        string `json:"type" validate:"required,oneof=chat contact"`
	Address     string `json:"address" validate:"required,max=320"`
	DisplayName string `json:"display_name" validate:"max=255"`
}

// CreateTemplateRequest represents the request body for creating a template.
type CreateTemplateRequest struct {
	Code    string  `json:"code" validate:"required,min=1,max=200,excludesall={}0x7C"`
	Subject *string `json:"subject" validate:"omitempty,max=998"`
	Body    string  `json:"body" validate:"required"`
}

// CreateGroupRequest represents the request body for creating an email group.
type CreateGroupRequest struct {
	Name     string  `json:"name" validate:"required,min=1,max=255"`
	ParentID *string `json:"parent_id" validate:"omitempty,uuid"`
}

// TargetResponse is the JSON form of a target.
type TargetResponse struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	Address     string `json:"address"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at"`
}

// TemplateResponse is the JSON form of a template.
type TemplateResponse struct {
	ID      string  `json:"id"`
	Code    string  `json:"code"`
	Subject *string `json:"subject"`
	Body    string  `json:"body"`
}

// GroupResponse is the JSON form of an email group.
type GroupResponse struct {
	ID       string  `json:"id"`
	ParentID *string `json:"parent_id"`
	Name     string  `json:"name"`
	IsActive bool    `json:"is_active"`
}

// CreateTarget handles POST /targets request.
func (h *Handler) CreateTarget(w http.ResponseWriter, r *http.Request) {
	var req CreateTargetRequest
	if !h.decode(w, r, &req) {
		return
	}

	target := &domain.Target{
		Type:        domain.TargetType(req.Type),
		Address:     req.Address,
		DisplayName: req.DisplayName,
	}
	if err := h.service.CreateTarget(r.Context(), target); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, toTargetResponse(target))
}

// GetTarget handles GET /targets/{id} request.
func (h *Handler) GetTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}

	target, err := h.service.GetTarget(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, toTargetResponse(target))
}

// ListTargets handles GET /targets request.
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	filter := TargetFilter{
		IncludeInactive: r.URL.Query().Get("include_inactive") == "true",
	}
	if t := r.URL.Query().Get("type"); t != "" {
		if t != string(domain.TargetTypeChat) && t != string(domain.TargetTypeContact) {
			httputil.Error(w, http.StatusBadRequest, "type must be chat or contact")
			return
		}
		tt := domain.TargetType(t)
		filter.Type = &tt
	}

	targets, err := h.service.ListTargets(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	resp := make([]TargetResponse, 0, len(targets))
	for i := range targets {
		resp = append(resp, toTargetResponse(&targets[i]))
	}
	httputil.Success(w, http.StatusOK, resp)
}

func (h *Handler) activateTarget(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.uuidParam(w, r, "id")
		if !ok {
			return
		}

		target, err := h.service.SetTargetActive(r.Context(), id, active)
		if err != nil {
			httputil.HandleError(r.Context(), w, err, errorMappings)
			return
		}

		httputil.Success(w, http.StatusOK, toTargetResponse(target))
	}
}

// CreateTemplate handles POST /templates request.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req CreateTemplateRequest
	if !h.decode(w, r, &req) {
		return
	}

	template := &domain.Template{
		Code:    req.Code,
		Subject: req.Subject,
		Body:    req.Body,
	}
	if err := h.service.CreateTemplate(r.Context(), template); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, toTemplateResponse(template))
}

// GetTemplate handles GET /templates/{idOrCode} request.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	template, err := h.service.GetTemplate(r.Context(), chi.URLParam(r, "idOrCode"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, toTemplateResponse(template))
}

// ListTemplates handles GET /templates request.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.service.ListTemplates(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	resp := make([]TemplateResponse, 0, len(templates))
	for i := range templates {
		resp = append(resp, toTemplateResponse(&templates[i]))
	}
	httputil.Success(w, http.StatusOK, resp)
}

// DeleteTemplate handles DELETE /templates/{idOrCode} request.
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	template, err := h.service.GetTemplate(r.Context(), chi.URLParam(r, "idOrCode"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	if err := h.service.DeleteTemplate(r.Context(), template.ID); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateGroup handles POST /groups request.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !h.decode(w, r, &req) {
		return
	}

	group := &domain.EmailGroup{
		Name:     req.Name,
		ParentID: req.ParentID,
	}
	if err := h.service.CreateGroup(r.Context(), group); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, toGroupResponse(group))
}

// GetGroup handles GET /groups/{id} request.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}

	group, err := h.service.GetGroup(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, toGroupResponse(group))
}

// ListGroups handles GET /groups request.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.ListGroups(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	resp := make([]GroupResponse, 0, len(groups))
	for i := range groups {
		resp = append(resp, toGroupResponse(&groups[i]))
	}
	httputil.Success(w, http.StatusOK, resp)
}

func (h *Handler) activateGroup(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.uuidParam(w, r, "id")
		if !ok {
			return
		}

		group, err := h.service.SetGroupActive(r.Context(), id, active)
		if err != nil {
			httputil.HandleError(r.Context(), w, err, errorMappings)
			return
		}

		httputil.Success(w, http.StatusOK, toGroupResponse(group))
	}
}

// ListGroupMembers handles GET /groups/{id}/members request.
func (h *Handler) ListGroupMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}

	members, err := h.service.ListGroupMembers(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	resp := make([]TargetResponse, 0, len(members))
	for i := range members {
		resp = append(resp, toTargetResponse(&members[i]))
	}
	httputil.Success(w, http.StatusOK, resp)
}

// AddGroupMember handles PUT /groups/{id}/members/{targetId} request.
func (h *Handler) AddGroupMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	targetID, ok := h.uuidParam(w, r, "targetId")
	if !ok {
		return
	}

	if err := h.service.AddGroupMember(r.Context(), groupID, targetID); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveGroupMember handles DELETE /groups/{id}/members/{targetId} request.
func (h *Handler) RemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	targetID, ok := h.uuidParam(w, r, "targetId")
	if !ok {
		return
	}

	if err := h.service.RemoveGroupMember(r.Context(), groupID, targetID); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GroupRecipients handles GET /groups/{id}/recipients request.
func (h *Handler) GroupRecipients(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}

	addresses, err := h.service.GroupRecipients(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	if addresses == nil {
		addresses = []string{}
	}

	httputil.Success(w, http.StatusOK, addresses)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		httputil.ValidationError(w, err)
		return false
	}
	return true
}

func (h *Handler) uuidParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := chi.URLParam(r, name)
	if err := h.validator.Var(id, "uuid"); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return id, true
}

func toTargetResponse(t *domain.Target) TargetResponse {
	return TargetResponse{
		ID:          t.ID,
		Type:        string(t.Type),
		DisplayName: t.DisplayName,
		Address:     t.Address,
		IsActive:    t.IsActive,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toTemplateResponse(t *domain.Template) TemplateResponse {
	return TemplateResponse{
		ID:      t.ID,
		Code:    t.Code,
		Subject: t.Subject,
		Body:    t.Body,
	}
}

func toGroupResponse(g *domain.EmailGroup) GroupResponse {
	return GroupResponse{
		ID:       g.ID,
		ParentID: g.ParentID,
		Name:     g.Name,
		IsActive: g.IsActive,
	}
}
