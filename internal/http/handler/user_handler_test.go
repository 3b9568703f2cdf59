package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/mock/gomock"

	"github.com/Madhan-droid/user-management-kiro-poc/internal/domain"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/http/middleware"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/repository"
	"github.com/Madhan-droid/user-management-kiro-poc/internal/service"
	svcgomock "github.com/Madhan-droid/user-management-kiro-poc/internal/service/gomock"
)

type handlerEnvelope struct {
	Success bool             `json:"success"`
	Data    json.RawMessage  `json:"data"`
	Error   *handlerErrorDTO `json:"error"`
}

type handlerErrorDTO struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// newUserRoutes mounts the handler behind the same context-stashing
// middlewares the production router uses, so commands are populated the
// way they are at runtime.
func newUserRoutes(users service.UserServiceInterface, queries service.QueryServiceInterface) http.Handler {
	h := NewUserHandler(users, queries)
	r := chi.NewRouter()
	r.Use(middleware.ActorMiddleware(nil))
	r.Route("/api/v1/users", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{id}", h.GetByID)
		r.Get("/{id}/audit", h.AuditLog)
		r.With(middleware.RequireIdempotencyKey("user.register")).Post("/", h.Register)
		r.With(middleware.RequireIdempotencyKey("user.profile.update")).Patch("/{id}", h.UpdateProfile)
		r.With(middleware.RequireIdempotencyKey("user.status.update")).Put("/{id}/status", h.UpdateStatus)
		r.With(middleware.RequireIdempotencyKey("user.roles.assign")).Post("/{id}/roles", h.AssignRole)
		r.With(middleware.RequireIdempotencyKey("user.roles.remove")).Delete("/{id}/roles/{role}", h.RemoveRole)
	})
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, handlerEnvelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var env handlerEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope from %q: %v", rr.Body.String(), err)
	}
	return rr, env
}

func testUser() *domain.User {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &domain.User{
		UserID:    "u-1",
		Email:     "alice@example.test",
		Name:      "Alice",
		Status:    domain.StatusActive,
		Roles:     []string{"admin"},
		Metadata:  map[string]string{"team": "core"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRegisterCreatesUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := svcgomock.NewMockUserServiceInterface(ctrl)
	queries := svcgomock.NewMockQueryServiceInterface(ctrl)

	var got service.RegisterCommand
	users.EXPECT().Register(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, cmd service.RegisterCommand) (*service.UserResult, error) {
			got = cmd
			return &service.UserResult{User: testUser()}, nil
		})

	rr, env := doRequest(t, newUserRoutes(users, queries), http.MethodPost, "/api/v1/users",
		`{"email":"alice@example.test","name":"Alice","metadata":{"team":"core"}}`,
		map[string]string{"Idempotency-Key": "reg-1", "X-Actor": "ops@example.test"})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if !env.Success {
		t.Fatalf("expected success envelope, got %s", rr.Body.String())
	}
	if rr.Header().Get("X-Idempotency-Replayed") != "" {
		t.Fatal("fresh execution must not carry the replay header")
	}

	if got.IdempotencyKey != "reg-1" {
		t.Fatalf("expected idempotency key from header, got %q", got.IdempotencyKey)
	}
	if got.Actor != "ops@example.test" {
		t.Fatalf("expected actor from header, got %q", got.Actor)
	}
	if got.Email != "alice@example.test" || got.Name != "Alice" {
		t.Fatalf("unexpected command payload: %+v", got)
	}
	if got.Metadata["team"] != "core" {
		t.Fatalf("expected metadata to pass through, got %+v", got.Metadata)
	}

	var u domain.User
	if err := json.Unmarshal(env.Data, &u); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if u.UserID != "u-1" || u.Email != "alice@example.test" {
		t.Fatalf("unexpected user payload: %+v", u)
	}
}

func TestRegisterReplayedSetsHeader(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := svcgomock.NewMockUserServiceInterface(ctrl)
	queries := svcgomock.NewMockQueryServiceInterface(ctrl)

	users.EXPECT().Register(gomock.Any(), gomock.Any()).
		Return(&service.UserResult{User: testUser(), Replayed: true}, nil)

	rr, env := doRequest(t, newUserRoutes(users, queries), http.MethodPost, "/api/v1/users",
		`{"email":"alice@example.test","name":"Alice"}`,
		map[string]string{"Idempotency-Key": "reg-1"})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected replay to keep the original status, got %d", rr.Code)
	}
	if rr.Header().Get("X-Idempotency-Replayed") != "true" {
		t.Fatal("expected X-Idempotency-Replayed: true")
	}
	if !env.Success {
		t.Fatalf("expected success envelope, got %s", rr.Body.String())
	}
}

func TestRegisterRejectsInvalidJSON(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := svcgomock.NewMockUserServiceInterface(ctrl)
	queries := svcgomock.NewMockQueryServiceInterface(ctrl)

	rr, env := doRequest(t, newUserRoutes(users, queries), http.MethodPost, "/api/v1/users",
		`{"email":`, map[string]string{"Idempotency-Key": "reg-1"})

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if env.Error == nil || env.Error.Code != domain.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %s", rr.Body.String())
	}
}

func TestRegisterConflictMapsTo409(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := svcgomock.NewMockUserServiceInterface(ctrl)
	queries := svcgomock.NewMockQueryServiceInterface(ctrl)

	users.EXPECT().Register(gomock.Any(), gomock.Any()).
		Return(nil, domain.NewConflict("email is already registered", domain.ConflictEmailExists))

	rr, env := doRequest(t, newUserRoutes(users, queries), http.MethodPost, "/api/v1/users",
		`{"email":"alice@example.test","name":"Alice"}`,
		map[string]string{"Idempotency-Key": "reg-1"})

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if env.Error == nil || env.Error.Code != domain.CodeConflict {
		t.Fatalf("expected CONFLICT, got %s", rr.Body.String())
	}
	if env.Error.Details["reason"] != domain.ConflictEmailExists {
		t.Fatalf("expected conflict reason detail, got %+v", env.Error.Details)
	}
}

func TestGetByIDReturnsUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := svcgomock.NewMockUserServiceInterface(ctrl)
	queries := svcgomock.NewMockQueryServiceInterface(ctrl)

	users.EXPECT().GetByID(gomock.Any(), "u-1").Return(testUser(), nil)

	rr, env := doRequest(t, newUserRoutes(users, queries), http.MethodGet, "/api/v1/users/u-1", "", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var u domain.User
	if err := json.Unmarshal(env.Data, &u); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if u.Email != "alice@example.test" {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := svcgomock.NewMockUserServiceInterface(ctrl)
	queries := svcgomock.NewMockQueryServiceInterface(ctrl)

	users.EXPECT().GetByID(gomock.Any(), "missing").Return(nil, domain.NewNotFound("user not found"))

	rr, env := doRequest(t, newUserRoutes(users, queries), http.MethodGet, "/api/v1/users/missing", "", nil)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if env.Error == nil || env.Error.Code != domain.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", rr.Body.String())
	}
}

func TestUpdateProfileForwardsImmutableFieldAttempts(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := svcgomock.NewMockUserServiceInterface(ctrl)
	queries := svcgomock.NewMockQueryServiceInterface(ctrl)

	var got service.UpdateProfileCommand
	users.EXPECT().UpdateProfile(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, cmd service.UpdateProfileCommand) (*service.UserResult, error) {
			got = cmd
			return &service.UserResult{User: testUser()}, nil
		})

	rr, _ := doRequest(t, newUserRoutes(users, queries), http.MethodPatch, "/api/v1/users/u-1",
		`{"name":"Alice B","metadata":{"team":"infra"},"email":"new@example.test"}`,
		map[string]string{"Idempotency-Key": "prof-1"})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.UserID != "u-1" {
		t.Fatalf("expected user id from path, got %q", got.UserID)
	}
	if got.Name == nil || *got.Name != "Alice B" {
		t.Fatalf("expected name pointer, got %+v", got.Name)
	}
	if got.Metadata["team"] != "infra" {
		t.Fatalf("expected metadata, got %+v", got.Metadata)
	}
	if got.Email == nil || *got.Email != "new@example.test" {
		t.Fatal("expected the attempted email change to be forwarded for rejection")
	}
	if got.NewUserID != nil {
		t.Fatal("expected absent userId field to stay nil")
	}
}

func TestUpdateStatusPassesStatus(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := svcgomock.NewMockUserServiceInterface(ctrl)
	queries := svcgomock.NewMockQueryServiceInterface(ctrl)

	var got service.UpdateStatusCommand
	users.EXPECT().UpdateStatus(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, cmd service.UpdateStatusCommand) (*service.UserResult, error) {
			got = cmd
			u := testUser()
			u.Status = domain.StatusDisabled
			return &service.UserResult{User: u}, nil
		})

	rr, env := doRequest(t, newUserRoutes(users, queries), http.MethodPut, "/api/v1/users/u-1/status",
		`{"status":"disabled"}`, map[string]string{"Idempotency-Key": "st-1"})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.UserID != "u-1" || got.Status != "disabled" {
		t.Fatalf("unexpected command: %+v", got)
	}
	var u domain.User
	if err := json.Unmarshal(env.Data, &u); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if u.Status != domain.StatusDisabled {
		t.Fatalf("expected disabled user in response, got %q", u.Status)
	}
}

func TestAssignRolePassesRole(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := svcgomock.NewMockUserServiceInterface(ctrl)
	queries := svcgomock.NewMockQueryServiceInterface(ctrl)

	var got service.RoleCommand
	users.EXPECT().AssignRole(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, cmd service.RoleCommand) (*service.UserResult, error) {
			got = cmd
			return &service.UserResult{User: testUser()}, nil
		})

	rr, _ := doRequest(t, newUserRoutes(users, queries), http.MethodPost, "/api/v1/users/u-1/roles",
		`{"role":"editor"}`, map[string]string{"Idempotency-Key": "role-1"})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.UserID != "u-1" || got.Role != "editor" {
		t.Fatalf("unexpected command: %+v", got)
	}
}

func TestRemoveRoleTakesRoleFromPath(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := svcgomock.NewMockUserServiceInterface(ctrl)
	queries := svcgomock.NewMockQueryServiceInterface(ctrl)

	var got service.RoleCommand
	users.EXPECT().RemoveRole(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, cmd service.RoleCommand) (*service.UserResult, error) {
			got = cmd
			u := testUser()
			u.Roles = []string{}
			return &service.UserResult{User: u}, nil
		})

	rr, _ := doRequest(t, newUserRoutes(users, queries), http.MethodDelete, "/api/v1/users/u-1/roles/admin",
		"", map[string]string{"Idempotency-Key": "role-2"})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.UserID != "u-1" || got.Role != "admin" {
		t.Fatalf("unexpected command: %+v", got)
	}
}

func TestListUsersPassesQueryAndNextToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := svcgomock.NewMockUserServiceInterface(ctrl)
	queries := svcgomock.NewMockQueryServiceInterface(ctrl)

	var got service.ListUsersQuery
	queries.EXPECT().ListUsers(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, q service.ListUsersQuery) (repository.Page[domain.UserSummary], error) {
			got = q
			return repository.Page[domain.UserSummary]{
				Items:     []domain.UserSummary{testUser().Summary()},
				NextToken: "next-1",
			}, nil
		})

	rr, env := doRequest(t, newUserRoutes(users, queries), http.MethodGet,
		"/api/v1/users?status=active&limit=25&cursor=abc", "", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.Status != "active" || got.Limit != 25 || got.Cursor != "abc" {
		t.Fatalf("unexpected query: %+v", got)
	}

	var data struct {
		Items     []domain.UserSummary `json:"items"`
		NextToken string               `json:"nextToken"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(data.Items) != 1 || data.Items[0].UserID != "u-1" {
		t.Fatalf("unexpected items: %+v", data.Items)
	}
	if data.NextToken != "next-1" {
		t.Fatalf("expected next token, got %q", data.NextToken)
	}
}

func TestListUsersEmptyPageKeepsItemsArray(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := svcgomock.NewMockUserServiceInterface(ctrl)
	queries := svcgomock.NewMockQueryServiceInterface(ctrl)

	queries.EXPECT().ListUsers(gomock.Any(), gomock.Any()).
		Return(repository.Page[domain.UserSummary]{}, nil)

	rr, env := doRequest(t, newUserRoutes(users, queries), http.MethodGet, "/api/v1/users", "", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if string(data["items"]) != "[]" {
		t.Fatalf("expected empty items array, got %s", data["items"])
	}
	if _, ok := data["nextToken"]; ok {
		t.Fatal("expected nextToken to be omitted on the last page")
	}
}

func TestListUsersRejectsBadLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := svcgomock.NewMockUserServiceInterface(ctrl)
	queries := svcgomock.NewMockQueryServiceInterface(ctrl)

	rr, env := doRequest(t, newUserRoutes(users, queries), http.MethodGet, "/api/v1/users?limit=nope", "", nil)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if env.Error == nil || env.Error.Code != domain.CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %s", rr.Body.String())
	}
}

func TestAuditLogPassesUserID(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := svcgomock.NewMockUserServiceInterface(ctrl)
	queries := svcgomock.NewMockQueryServiceInterface(ctrl)

	var got service.AuditLogQuery
	queries.EXPECT().AuditLog(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, q service.AuditLogQuery) (repository.Page[domain.AuditEntry], error) {
			got = q
			return repository.Page[domain.AuditEntry]{
				Items: []domain.AuditEntry{{UserID: "u-1", Action: domain.ActionUserCreated}},
			}, nil
		})

	rr, env := doRequest(t, newUserRoutes(users, queries), http.MethodGet, "/api/v1/users/u-1/audit?limit=10", "", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.UserID != "u-1" || got.Limit != 10 {
		t.Fatalf("unexpected query: %+v", got)
	}
	var data struct {
		Items []domain.AuditEntry `json:"items"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(data.Items) != 1 || data.Items[0].Action != domain.ActionUserCreated {
		t.Fatalf("unexpected entries: %+v", data.Items)
	}
}

func TestUnknownErrorStaysOpaque(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := svcgomock.NewMockUserServiceInterface(ctrl)
	queries := svcgomock.NewMockQueryServiceInterface(ctrl)

	users.EXPECT().GetByID(gomock.Any(), "u-1").Return(nil, errors.New("backend exploded: credentials in message"))

	rr, env := doRequest(t, newUserRoutes(users, queries), http.MethodGet, "/api/v1/users/u-1", "", nil)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if env.Error == nil || env.Error.Code != domain.CodeInternal {
		t.Fatalf("expected INTERNAL_ERROR, got %s", rr.Body.String())
	}
	if strings.Contains(env.Error.Message, "credentials") {
		t.Fatal("internal error details must not leak to clients")
	}
}
