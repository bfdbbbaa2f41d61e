package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/snippet-manager/internal/model"
)

// SnippetService is the part of service.SnippetService the HTTP layer calls.
type SnippetService interface {
	Create(ctx context.Context, requester string, in model.SnippetInput) (*model.SnippetView, error)
	Edit(ctx context.Context, requester string, id int64, code string) (*model.SnippetView, error)
	Get(ctx context.Context, requester string, id int64) (*model.SnippetView, error)
	Search(ctx context.Context, requester string, filter model.SearchFilter, page, size int) (model.Page[model.SnippetSummary], error)
	Share(ctx context.Context, requester string, id int64, email string) (*model.SharedSnippet, error)
	Delete(ctx context.Context, requester string, id int64) error
	RequestAnalysis(ctx context.Context, requester string, rules model.SCARules) (int, error)
	RequestFormat(ctx context.Context, requester string, rules model.FormatRules) (int, error)
	Analyze(ctx context.Context, requester string, id int64) error
	FileTypes() []model.FileType
}

// StatusApplier applies a verdict (reconciler.Reconciler).
type StatusApplier interface {
	ApplyUpdate(ctx context.Context, update model.StatusUpdate) error
}

// SnippetHandler serves the /snippetManager routes.
//
// Handlers only translate HTTP into service calls: parse the path, query
// and body, take the caller's email from the context, call the service
// and write the result. Every rule lives in the service.
type SnippetHandler struct {
	snippets SnippetService
	statuses StatusApplier
	logger   *slog.Logger
}

func NewSnippetHandler(snippets SnippetService, statuses StatusApplier, logger *slog.Logger) *SnippetHandler {
	return &SnippetHandler{snippets: snippets, statuses: statuses, logger: logger}
}

type editRequest struct {
	Code string `json:"code"`
}

// DispatchResponse reports how many jobs a rule change queued.
type DispatchResponse struct {
	Dispatched int `json:"dispatched"`
}

// HandleCreate stores a new snippet.
//
// HTTP: POST /snippetManager/create
// REQUEST BODY: {"name": "...", "language": "printscript", "code": "...", "extension": "prs"}
func (h *SnippetHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	email, ok := requester(w, r)
	if !ok {
		return
	}
	var in model.SnippetInput
	if err := decodeJSON(r, w, &in, false); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.snippets.Create(r.Context(), email, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleEdit replaces a snippet's code.
//
// HTTP: POST /snippetManager/edit/{id}
// REQUEST BODY: {"code": "..."}
func (h *SnippetHandler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	email, ok := requester(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req editRequest
	if err := decodeJSON(r, w, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.snippets.Edit(r.Context(), email, id, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleGet returns one snippet with its code and status.
//
// HTTP: GET /snippetManager/get/{id}
func (h *SnippetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	email, ok := requester(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.snippets.Get(r.Context(), email, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleSearch returns one page of visible snippets.
//
// HTTP: POST /snippetManager/search?page=0&size=10
// REQUEST BODY (optional): {"language": "java", "permission": "OWNER"}
func (h *SnippetHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	email, ok := requester(w, r)
	if !ok {
		return
	}
	page, err := queryInt(r, "page", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, err := queryInt(r, "size", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var filter model.SearchFilter
	if err := decodeJSON(r, w, &filter, true); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.snippets.Search(r.Context(), email, filter, page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleShare grants another user read access.
//
// HTTP: POST /snippetManager/share/{id}?shareEmail=someone@example.com
func (h *SnippetHandler) HandleShare(w http.ResponseWriter, r *http.Request) {
	email, ok := requester(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	grant, err := h.snippets.Share(r.Context(), email, id, r.URL.Query().Get("shareEmail"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

// HandleDelete deletes a snippet (author) or drops the caller's access
// (grantee).
//
// HTTP: DELETE /snippetManager/delete/{id}
func (h *SnippetHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	email, ok := requester(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.snippets.Delete(r.Context(), email, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleFileTypes lists the supported languages and extensions.
//
// HTTP: GET /snippetManager/fileTypes
func (h *SnippetHandler) HandleFileTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snippets.FileTypes())
}

// HandlePendingSCA resets the caller's statuses and queues analysis of
// every snippet they own.
//
// HTTP: PUT /snippetManager/pending/user/sca
// REQUEST BODY: {"rules": [{"name": "...", "value": ...}], "language": "printscript"}
func (h *SnippetHandler) HandlePendingSCA(w http.ResponseWriter, r *http.Request) {
	email, ok := requester(w, r)
	if !ok {
		return
	}
	var rules model.SCARules
	if err := decodeJSON(r, w, &rules, false); err != nil {
		writeError(w, r, err)
		return
	}

	n, err := h.snippets.RequestAnalysis(r.Context(), email, rules)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DispatchResponse{Dispatched: n})
}

// HandlePendingFormat is HandlePendingSCA for formatting and linting rules.
//
// HTTP: PUT /snippetManager/pending/user/format
// REQUEST BODY: {"formatRules": [...], "lintingRules": [...]}
func (h *SnippetHandler) HandlePendingFormat(w http.ResponseWriter, r *http.Request) {
	email, ok := requester(w, r)
	if !ok {
		return
	}
	var rules model.FormatRules
	if err := decodeJSON(r, w, &rules, false); err != nil {
		writeError(w, r, err)
		return
	}

	n, err := h.snippets.RequestFormat(r.Context(), email, rules)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DispatchResponse{Dispatched: n})
}

// HandleUpdateStatus writes a verdict directly. It goes through the same
// code path as the status queue.
//
// HTTP: PUT /snippetManager/update/status
// REQUEST BODY: {"id": 1, "status": "COMPLIANT", "ownerEmail": "..."}
func (h *SnippetHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := requester(w, r); !ok {
		return
	}
	var update model.StatusUpdate
	if err := decodeJSON(r, w, &update, false); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.statuses.ApplyUpdate(r.Context(), update); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, update)
}

// HandleAnalyze re-queues analysis of one snippet for the caller.
//
// HTTP: POST /snippetManager/analyze/{id}
func (h *SnippetHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	email, ok := requester(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.snippets.Analyze(r.Context(), email, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
