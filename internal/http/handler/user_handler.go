package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/domain"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/http/middleware"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/http/response"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/observability"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/service"
)

const replayedHeader = "X-Idempotency-Replayed"

type UserHandler struct {
	users   service.UserServiceInterface
	queries service.QueryServiceInterface
}

func NewUserHandler(users service.UserServiceInterface, queries service.QueryServiceInterface) *UserHandler {
	return &UserHandler{users: users, queries: queries}
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string            `json:"email"`
		Name     string            `json:"name"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, domain.CodeValidation, "invalid payload", nil)
		return
	}

	res, err := h.users.Register(r.Context(), service.RegisterCommand{
		IdempotencyKey: middleware.IdempotencyKeyFromContext(r.Context()),
		Actor:          middleware.ActorFromContext(r.Context()),
		CorrelationID:  observability.CorrelationIDFromContext(r.Context()),
		Email:          body.Email,
		Name:           body.Name,
		Metadata:       body.Metadata,
	})
	if err != nil {
		response.DomainError(w, r, err)
		return
	}
	writeUserResult(w, r, http.StatusCreated, res)
}

func (h *UserHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.DomainError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, u)
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     *string           `json:"name"`
		Metadata map[string]string `json:"metadata"`
		// Immutable fields; present values are rejected, not ignored.
		Email  *string `json:"email"`
		UserID *string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, domain.CodeValidation, "invalid payload", nil)
		return
	}

	res, err := h.users.UpdateProfile(r.Context(), service.UpdateProfileCommand{
		IdempotencyKey: middleware.IdempotencyKeyFromContext(r.Context()),
		Actor:          middleware.ActorFromContext(r.Context()),
		CorrelationID:  observability.CorrelationIDFromContext(r.Context()),
		UserID:         chi.URLParam(r, "id"),
		Name:           body.Name,
		Metadata:       body.Metadata,
		Email:          body.Email,
		NewUserID:      body.UserID,
	})
	if err != nil {
		response.DomainError(w, r, err)
		return
	}
	writeUserResult(w, r, http.StatusOK, res)
}

func (h *UserHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, domain.CodeValidation, "invalid payload", nil)
		return
	}

	res, err := h.users.UpdateStatus(r.Context(), service.UpdateStatusCommand{
		IdempotencyKey: middleware.IdempotencyKeyFromContext(r.Context()),
		Actor:          middleware.ActorFromContext(r.Context()),
		CorrelationID:  observability.CorrelationIDFromContext(r.Context()),
		UserID:         chi.URLParam(r, "id"),
		Status:         body.Status,
	})
	if err != nil {
		response.DomainError(w, r, err)
		return
	}
	writeUserResult(w, r, http.StatusOK, res)
}

func (h *UserHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, domain.CodeValidation, "invalid payload", nil)
		return
	}

	res, err := h.users.AssignRole(r.Context(), h.roleCommand(r, body.Role))
	if err != nil {
		response.DomainError(w, r, err)
		return
	}
	writeUserResult(w, r, http.StatusOK, res)
}

func (h *UserHandler) RemoveRole(w http.ResponseWriter, r *http.Request) {
	res, err := h.users.RemoveRole(r.Context(), h.roleCommand(r, chi.URLParam(r, "role")))
	if err != nil {
		response.DomainError(w, r, err)
		return
	}
	writeUserResult(w, r, http.StatusOK, res)
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, domain.CodeValidation, err.Error(), nil)
		return
	}

	page, err := h.queries.ListUsers(r.Context(), service.ListUsersQuery{
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	})
	if err != nil {
		response.DomainError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, pagePayload(page.Items, page.NextToken))
}

func (h *UserHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, domain.CodeValidation, err.Error(), nil)
		return
	}

	page, err := h.queries.AuditLog(r.Context(), service.AuditLogQuery{
		UserID: chi.URLParam(r, "id"),
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	})
	if err != nil {
		response.DomainError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, pagePayload(page.Items, page.NextToken))
}

func (h *UserHandler) roleCommand(r *http.Request, role string) service.RoleCommand {
	return service.RoleCommand{
		IdempotencyKey: middleware.IdempotencyKeyFromContext(r.Context()),
		Actor:          middleware.ActorFromContext(r.Context()),
		CorrelationID:  observability.CorrelationIDFromContext(r.Context()),
		UserID:         chi.URLParam(r, "id"),
		Role:           role,
	}
}

// writeUserResult keeps replayed responses byte-identical to the first
// execution; only the header tells them apart.
func writeUserResult(w http.ResponseWriter, r *http.Request, status int, res *service.UserResult) {
	if res.Replayed {
		w.Header().Set(replayedHeader, "true")
	}
	response.JSON(w, r, status, res.User)
}

func pagePayload[T any](items []T, nextToken string) map[string]any {
	if items == nil {
		items = []T{}
	}
	data := map[string]any{"items": items}
	if nextToken != "" {
		data["nextToken"] = nextToken
	}
	return data
}

func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return v, nil
}
