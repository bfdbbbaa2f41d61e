package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/snippet-manager/internal/apperror"
	"github.com/sakif/snippet-manager/internal/auth"
	"github.com/sakif/snippet-manager/internal/handler"
	"github.com/sakif/snippet-manager/internal/model"
)

// MockSnippets records the last call and returns canned results.
type MockSnippets struct {
	Requester string
	ID        int64
	Input     model.SnippetInput
	Code      string
	Email     string
	Filter    model.SearchFilter
	Page      int
	Size      int
	SCARules  model.SCARules

	View *model.SnippetView
	Err  error
}

func (m *MockSnippets) Create(_ context.Context, requester string, in model.SnippetInput) (*model.SnippetView, error) {
	m.Requester, m.Input = requester, in
	return m.View, m.Err
}

func (m *MockSnippets) Edit(_ context.Context, requester string, id int64, code string) (*model.SnippetView, error) {
	m.Requester, m.ID, m.Code = requester, id, code
	return m.View, m.Err
}

func (m *MockSnippets) Get(_ context.Context, requester string, id int64) (*model.SnippetView, error) {
	m.Requester, m.ID = requester, id
	return m.View, m.Err
}

func (m *MockSnippets) Search(_ context.Context, requester string, filter model.SearchFilter, page, size int) (model.Page[model.SnippetSummary], error) {
	m.Requester, m.Filter, m.Page, m.Size = requester, filter, page, size
	return model.NewPage([]model.SnippetSummary{{ID: 1, Name: "a"}}, page, 10, 1), m.Err
}

func (m *MockSnippets) Share(_ context.Context, requester string, id int64, email string) (*model.SharedSnippet, error) {
	m.Requester, m.ID, m.Email = requester, id, email
	if m.Err != nil {
		return nil, m.Err
	}
	return &model.SharedSnippet{SnippetID: id, UserEmail: email}, nil
}

func (m *MockSnippets) Delete(_ context.Context, requester string, id int64) error {
	m.Requester, m.ID = requester, id
	return m.Err
}

func (m *MockSnippets) RequestAnalysis(_ context.Context, requester string, rules model.SCARules) (int, error) {
	m.Requester, m.SCARules = requester, rules
	return 3, m.Err
}

func (m *MockSnippets) RequestFormat(_ context.Context, requester string, _ model.FormatRules) (int, error) {
	m.Requester = requester
	return 2, m.Err
}

func (m *MockSnippets) Analyze(_ context.Context, requester string, id int64) error {
	m.Requester, m.ID = requester, id
	return m.Err
}

func (m *MockSnippets) FileTypes() []model.FileType { return model.FileTypes() }

type MockStatuses struct {
	Got model.StatusUpdate
	Err error
}

func (m *MockStatuses) ApplyUpdate(_ context.Context, u model.StatusUpdate) error {
	m.Got = u
	return m.Err
}

const caller = "test@example.com"

// newRouter mounts the handler the way the server does, with the caller
// already authenticated.
func newRouter(snippets handler.SnippetService, statuses handler.StatusApplier) http.Handler {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	h := handler.NewSnippetHandler(snippets, statuses, logger)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithEmail(r.Context(), caller)))
		})
	})
	r.Route("/snippetManager", func(r chi.Router) {
		r.Post("/create", h.HandleCreate)
		r.Post("/edit/{id}", h.HandleEdit)
		r.Post("/search", h.HandleSearch)
		r.Get("/get/{id}", h.HandleGet)
		r.Post("/share/{id}", h.HandleShare)
		r.Delete("/delete/{id}", h.HandleDelete)
		r.Get("/fileTypes", h.HandleFileTypes)
		r.Put("/pending/user/sca", h.HandlePendingSCA)
		r.Put("/pending/user/format", h.HandlePendingFormat)
		r.Put("/update/status", h.HandleUpdateStatus)
		r.Post("/analyze/{id}", h.HandleAnalyze)
	})
	return r
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var e handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&e))
	return e
}

func TestSnippetHandler_Create(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		mock := &MockSnippets{View: &model.SnippetView{ID: 1, Name: "snippet", Status: "PENDING", Extension: "prs"}}
		router := newRouter(mock, &MockStatuses{})

		rr := do(t, router, http.MethodPost, "/snippetManager/create",
			`{"name":"snippet","language":"PrintScript","code":"let a: number = 5;","extension":"prs"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		var v model.SnippetView
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&v))
		assert.Equal(t, int64(1), v.ID)
		assert.Equal(t, "PENDING", v.Status)

		assert.Equal(t, caller, mock.Requester)
		assert.Equal(t, "let a: number = 5;", mock.Input.Code)
		assert.Equal(t, "PrintScript", mock.Input.Language)
	})

	t.Run("invalid json", func(t *testing.T) {
		router := newRouter(&MockSnippets{}, &MockStatuses{})

		rr := do(t, router, http.MethodPost, "/snippetManager/create", `{"name":`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "validation_error", decodeError(t, rr).Error)
	})

	t.Run("upstream failure is a 400 with the store's message", func(t *testing.T) {
		mock := &MockSnippets{Err: apperror.Upstream("error saving snippet: disk full", true)}
		router := newRouter(mock, &MockStatuses{})

		rr := do(t, router, http.MethodPost, "/snippetManager/create", `{"name":"a"}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		e := decodeError(t, rr)
		assert.Equal(t, "upstream_error", e.Error)
		assert.Equal(t, "error saving snippet: disk full", e.Message)
	})
}

func TestSnippetHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCode      int
		wantKind      string
		wantRetryable bool
	}{
		{"not found", apperror.NotFound("snippet", 9), http.StatusBadRequest, "not_found", false},
		{"unauthorized", apperror.Unauthorized("not allowed to access this snippet"), http.StatusBadRequest, "unauthorized", false},
		{"conflict", apperror.Conflict("already shared"), http.StatusBadRequest, "conflict", false},
		{"malformed", apperror.Malformed("bad"), http.StatusBadRequest, "malformed", false},
		{"upstream timeout", apperror.Upstream("error getting snippet: timed out", true), http.StatusBadRequest, "upstream_error", true},
		{"upstream rejected", apperror.Upstream("error getting snippet: 403", false), http.StatusBadRequest, "upstream_error", false},
		{"unexpected", assert.AnError, http.StatusInternalServerError, "internal_error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(&MockSnippets{Err: tt.err}, &MockStatuses{})

			rr := do(t, router, http.MethodGet, "/snippetManager/get/9", "")

			assert.Equal(t, tt.wantCode, rr.Code)
			e := decodeError(t, rr)
			assert.Equal(t, tt.wantKind, e.Error)
			assert.Equal(t, tt.wantRetryable, e.Retryable)
			if tt.wantCode == http.StatusInternalServerError {
				assert.NotContains(t, e.Message, assert.AnError.Error())
			}
		})
	}
}

func TestSnippetHandler_PathID(t *testing.T) {
	for _, path := range []string{"/snippetManager/get/abc", "/snippetManager/get/0", "/snippetManager/get/-4"} {
		mock := &MockSnippets{}
		router := newRouter(mock, &MockStatuses{})

		rr := do(t, router, http.MethodGet, path, "")

		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
		assert.Zero(t, mock.ID, "service must not be called for %s", path)
	}
}

func TestSnippetHandler_EditAndShare(t *testing.T) {
	mock := &MockSnippets{View: &model.SnippetView{ID: 1}}
	router := newRouter(mock, &MockStatuses{})

	rr := do(t, router, http.MethodPost, "/snippetManager/edit/1", `{"code":"let a: number = 10;"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(1), mock.ID)
	assert.Equal(t, "let a: number = 10;", mock.Code)

	rr = do(t, router, http.MethodPost, "/snippetManager/share/1?shareEmail=test2@example.com", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "test2@example.com", mock.Email)
}

func TestSnippetHandler_Search(t *testing.T) {
	t.Run("body and paging", func(t *testing.T) {
		mock := &MockSnippets{}
		router := newRouter(mock, &MockStatuses{})

		rr := do(t, router, http.MethodPost, "/snippetManager/search?page=2&size=5", `{"language":"java","permission":"OWNER"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 2, mock.Page)
		assert.Equal(t, 5, mock.Size)
		assert.Equal(t, "java", mock.Filter.Language)
		assert.Equal(t, "OWNER", mock.Filter.Permission)

		var page model.Page[model.SnippetSummary]
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&page))
		assert.Len(t, page.Content, 1)
	})

	t.Run("empty body", func(t *testing.T) {
		mock := &MockSnippets{}
		router := newRouter(mock, &MockStatuses{})

		rr := do(t, router, http.MethodPost, "/snippetManager/search", "")

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, model.SearchFilter{}, mock.Filter)
	})

	t.Run("bad page", func(t *testing.T) {
		router := newRouter(&MockSnippets{}, &MockStatuses{})

		rr := do(t, router, http.MethodPost, "/snippetManager/search?page=two", "")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestSnippetHandler_DeleteAndAnalyze(t *testing.T) {
	mock := &MockSnippets{}
	router := newRouter(mock, &MockStatuses{})

	rr := do(t, router, http.MethodDelete, "/snippetManager/delete/4", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(4), mock.ID)

	rr = do(t, router, http.MethodPost, "/snippetManager/analyze/5", "")
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, int64(5), mock.ID)
}

func TestSnippetHandler_PendingRules(t *testing.T) {
	mock := &MockSnippets{}
	router := newRouter(mock, &MockStatuses{})

	rr := do(t, router, http.MethodPut, "/snippetManager/pending/user/sca",
		`{"rules":[{"name":"mandatory-variable-or-literal-in-println","value":true}],"language":"printscript"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"dispatched":3}`, rr.Body.String())
	assert.Equal(t, "printscript", mock.SCARules.Language)
	require.Len(t, mock.SCARules.Rules, 1)

	rr = do(t, router, http.MethodPut, "/snippetManager/pending/user/format", `{"formatRules":[],"lintingRules":[]}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"dispatched":2}`, rr.Body.String())
}

func TestSnippetHandler_UpdateStatus(t *testing.T) {
	statuses := &MockStatuses{}
	router := newRouter(&MockSnippets{}, statuses)

	rr := do(t, router, http.MethodPut, "/snippetManager/update/status",
		`{"id":1,"status":"COMPLIANT","ownerEmail":"test@example.com"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, model.StatusUpdate{ID: 1, Status: "COMPLIANT", OwnerEmail: "test@example.com"}, statuses.Got)

	statuses.Err = apperror.Malformed(`unknown status "MAYBE"`)
	rr = do(t, router, http.MethodPut, "/snippetManager/update/status", `{"id":1,"status":"MAYBE","ownerEmail":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSnippetHandler_FileTypes(t *testing.T) {
	router := newRouter(&MockSnippets{}, &MockStatuses{})

	rr := do(t, router, http.MethodGet, "/snippetManager/fileTypes", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	var types []model.FileType
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&types))
	assert.Contains(t, types, model.FileType{Language: "printscript", Extension: "prs"})
}

func TestSnippetHandler_Unauthenticated(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	h := handler.NewSnippetHandler(&MockSnippets{}, &MockStatuses{}, logger)

	rr := httptest.NewRecorder()
	h.HandleCreate(rr, httptest.NewRequest(http.MethodPost, "/snippetManager/create", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
