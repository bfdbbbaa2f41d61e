package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/sakif/snippet-manager/internal/apperror"
	"github.com/sakif/snippet-manager/internal/model"
)

// =========================================================================
// MOCK STORE
// =========================================================================
//
// mockStore implements repository.Store in memory. It follows the same
// contract as sqlstore.DB (Create also writes the author's status, Share
// also writes the grantee's status, Delete cascades) so service tests
// exercise the real orchestration without a database.

type statusKey struct {
	id    int64
	email string
}

type mockStore struct {
	mu       sync.Mutex
	nextID   int64
	snippets map[int64]model.Snippet
	statuses map[statusKey]model.Status
	grants   map[statusKey]bool

	// Injected failures.
	deleteErr error
	createErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		snippets: make(map[int64]model.Snippet),
		statuses: make(map[statusKey]model.Status),
		grants:   make(map[statusKey]bool),
	}
}

func (m *mockStore) Create(_ context.Context, s *model.Snippet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	s.ID = m.nextID
	m.snippets[s.ID] = *s
	m.statuses[statusKey{s.ID, s.Author}] = model.StatusPending
	return nil
}

func (m *mockStore) GetByID(_ context.Context, id int64) (*model.Snippet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snippets[id]
	if !ok {
		return nil, apperror.NotFound("snippet", id)
	}
	return &s, nil
}

func (m *mockStore) ListByAuthor(_ context.Context, author string) ([]model.Snippet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Snippet{}
	for _, s := range m.snippets {
		if s.Author == author {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.snippets[id]; !ok {
		return apperror.NotFound("snippet", id)
	}
	delete(m.snippets, id)
	for k := range m.statuses {
		if k.id == id {
			delete(m.statuses, k)
		}
	}
	for k := range m.grants {
		if k.id == id {
			delete(m.grants, k)
		}
	}
	return nil
}

func (m *mockStore) GetStatus(_ context.Context, id int64, email string) (*model.SnippetStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[statusKey{id, email}]
	if !ok {
		return nil, apperror.NotFound("status", fmt.Sprintf("%d/%s", id, email))
	}
	return &model.SnippetStatus{SnippetID: id, UserEmail: email, Status: st}, nil
}

func (m *mockStore) SetStatus(_ context.Context, id int64, email string, status model.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := statusKey{id, email}
	if _, ok := m.statuses[k]; !ok {
		return apperror.NotFound("status", fmt.Sprintf("%d/%s", id, email))
	}
	m.statuses[k] = status
	return nil
}

func (m *mockStore) ResetStatusesForUser(_ context.Context, email string, status model.Status) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.statuses {
		if k.email == email {
			m.statuses[k] = status
			n++
		}
	}
	return n, nil
}

// removeStatus drops a status row to simulate a snippet without one.
func (m *mockStore) removeStatus(id int64, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := statusKey{id, email}
	if _, ok := m.statuses[k]; !ok {
		return apperror.NotFound("status", fmt.Sprintf("%d/%s", id, email))
	}
	delete(m.statuses, k)
	return nil
}

func (m *mockStore) Share(_ context.Context, g *model.SharedSnippet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := statusKey{g.SnippetID, g.UserEmail}
	if m.grants[k] {
		return apperror.Conflict("already shared")
	}
	m.grants[k] = true
	m.statuses[k] = model.StatusPending
	return nil
}

func (m *mockStore) IsSharedWith(_ context.Context, id int64, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants[statusKey{id, email}], nil
}

func (m *mockStore) Revoke(_ context.Context, id int64, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := statusKey{id, email}
	if !m.grants[k] {
		return apperror.NotFound("grant", fmt.Sprintf("%d/%s", id, email))
	}
	delete(m.grants, k)
	delete(m.statuses, k)
	return nil
}

func (m *mockStore) Search(_ context.Context, q model.SearchQuery) (model.Page[model.SnippetSummary], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.SnippetSummary{}
	for _, s := range m.snippets {
		own := s.Author == q.Requester
		shared := m.grants[statusKey{s.ID, q.Requester}]
		switch q.Permission {
		case model.PermissionOwner:
			if !own {
				continue
			}
		case model.PermissionShared:
			if own || !shared {
				continue
			}
		default:
			if !own && !shared {
				continue
			}
		}
		if q.Language != "" && !strings.Contains(strings.ToLower(s.Language), strings.ToLower(q.Language)) {
			continue
		}
		out = append(out, model.SnippetSummary{ID: s.ID, Name: s.Name, Language: s.Language, Author: s.Author,
			Status: string(m.statuses[statusKey{s.ID, s.Author}])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := int64(len(out))
	start := q.Page * q.Size
	if start > len(out) {
		start = len(out)
	}
	end := start + q.Size
	if end > len(out) {
		end = len(out)
	}
	return model.NewPage(out[start:end], q.Page, q.Size, total), nil
}

// =========================================================================
// MOCK CONTENT STORE
// =========================================================================

type mockContent struct {
	mu      sync.Mutex
	objects map[int64]string

	putErr    error
	putFailOn int // fail only the n-th Put (1-based); 0 means every Put when putErr is set
	puts      int
	getErr    error
	deleteErr error

	// beforePut runs inside Put before the failure check, outside the lock.
	beforePut func()
}

func newMockContent() *mockContent {
	return &mockContent{objects: make(map[int64]string)}
}

func (c *mockContent) Put(_ context.Context, id int64, code string) error {
	if c.beforePut != nil {
		c.beforePut()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	if c.putErr != nil && (c.putFailOn == 0 || c.putFailOn == c.puts) {
		return c.putErr
	}
	c.objects[id] = code
	return nil
}

func (c *mockContent) Get(_ context.Context, id int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return "", c.getErr
	}
	v, ok := c.objects[id]
	if !ok {
		return "", apperror.NotFound("snippet content", id)
	}
	return v, nil
}

func (c *mockContent) Delete(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return c.deleteErr
	}
	if _, ok := c.objects[id]; !ok {
		return apperror.NotFound("snippet content", id)
	}
	delete(c.objects, id)
	return nil
}

func (c *mockContent) has(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.objects[id]
	return ok
}

// =========================================================================
// MOCK DISPATCHER
// =========================================================================

type mockDispatcher struct {
	bulkAnalysis []string
	bulkFormat   []string
	single       []int64
	err          error
}

func (d *mockDispatcher) DispatchBulkAnalysis(_ context.Context, _ model.SCARules, requester string) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	d.bulkAnalysis = append(d.bulkAnalysis, requester)
	return 1, nil
}

func (d *mockDispatcher) DispatchBulkFormat(_ context.Context, _ model.FormatRules, requester string) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	d.bulkFormat = append(d.bulkFormat, requester)
	return 1, nil
}

func (d *mockDispatcher) DispatchSingleAnalysis(_ context.Context, s *model.Snippet, _ string) error {
	if d.err != nil {
		return d.err
	}
	d.single = append(d.single, s.ID)
	return nil
}

var errBoom = errors.New("boom")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
