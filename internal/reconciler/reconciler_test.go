package reconciler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/snippet-manager/internal/apperror"
	"github.com/sakif/snippet-manager/internal/metrics"
	"github.com/sakif/snippet-manager/internal/model"
	"github.com/sakif/snippet-manager/internal/queue"
	"github.com/sakif/snippet-manager/internal/queue/memq"
)

// =========================================================================
// MOCKS
// =========================================================================

type key struct {
	id    int64
	email string
}

type mockStatuses struct {
	mu       sync.Mutex
	rows     map[key]model.Status
	setErr   error
	panicOn  int64
	setCalls int
}

func newMockStatuses() *mockStatuses {
	return &mockStatuses{rows: make(map[key]model.Status)}
}

func (m *mockStatuses) seed(id int64, email string) {
	m.rows[key{id, email}] = model.StatusPending
}

func (m *mockStatuses) get(id int64, email string) model.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[key{id, email}]
}

func (m *mockStatuses) GetStatus(_ context.Context, id int64, email string) (*model.SnippetStatus, error) {
	return &model.SnippetStatus{SnippetID: id, UserEmail: email, Status: m.get(id, email)}, nil
}

func (m *mockStatuses) SetStatus(_ context.Context, id int64, email string, status model.Status) error {
	if id == m.panicOn {
		panic("corrupt row")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.setErr != nil {
		return m.setErr
	}
	k := key{id, email}
	if _, ok := m.rows[k]; !ok {
		return apperror.NotFound("status", fmt.Sprintf("%d/%s", id, email))
	}
	m.rows[k] = status
	return nil
}

func (m *mockStatuses) ResetStatusesForUser(context.Context, string, model.Status) (int64, error) {
	return 0, nil
}

// flakyConsumer fails the first `failures` pops, then delegates.
type flakyConsumer struct {
	queue.Consumer
	failures int32
	calls    atomic.Int32
}

func (f *flakyConsumer) Pop(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("connection refused")
	}
	return f.Consumer.Pop(ctx, name, timeout)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestReconciler(statuses *mockStatuses, consumer queue.Consumer) *Reconciler {
	return New(statuses, consumer, Config{PollTimeout: 50 * time.Millisecond}, metrics.New("test"), testLogger())
}

// =========================================================================
// APPLY TESTS
// =========================================================================

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		status  model.Status
	}{
		{"compliant", `{"id":1,"status":"COMPLIANT","ownerEmail":"test@example.com"}`, metrics.OutcomeApplied, model.StatusCompliant},
		{"not compliant", `{"id":1,"status":"NOT_COMPLIANT","ownerEmail":"test@example.com"}`, metrics.OutcomeApplied, model.StatusNotCompliant},
		{"not json", `{garbage`, metrics.OutcomeDroppedMalformed, model.StatusPending},
		{"unknown status", `{"id":1,"status":"MAYBE","ownerEmail":"test@example.com"}`, metrics.OutcomeDroppedMalformed, model.StatusPending},
		{"missing owner", `{"id":1,"status":"COMPLIANT"}`, metrics.OutcomeDroppedMalformed, model.StatusPending},
		{"missing id", `{"status":"COMPLIANT","ownerEmail":"test@example.com"}`, metrics.OutcomeDroppedMalformed, model.StatusPending},
		{"no such snippet", `{"id":99,"status":"COMPLIANT","ownerEmail":"test@example.com"}`, metrics.OutcomeDroppedMissing, model.StatusPending},
		{"no such user", `{"id":1,"status":"COMPLIANT","ownerEmail":"other@example.com"}`, metrics.OutcomeDroppedMissing, model.StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statuses := newMockStatuses()
			statuses.seed(1, "test@example.com")
			r := newTestReconciler(statuses, memq.New())

			got := r.Apply(context.Background(), []byte(tt.payload))

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.status, statuses.get(1, "test@example.com"))
		})
	}
}

func TestApply_RepositoryError(t *testing.T) {
	statuses := newMockStatuses()
	statuses.seed(1, "test@example.com")
	statuses.setErr = errors.New("database is locked")
	r := newTestReconciler(statuses, memq.New())

	got := r.Apply(context.Background(), []byte(`{"id":1,"status":"COMPLIANT","ownerEmail":"test@example.com"}`))
	assert.Equal(t, metrics.OutcomeFailed, got)
}

func TestApply_LogsCarryCorrelationID(t *testing.T) {
	statuses := newMockStatuses()
	statuses.seed(1, "test@example.com")
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	r := New(statuses, memq.New(), Config{}, metrics.New("test"), logger)

	lastCID := func() string {
		lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
		var entry struct {
			CorrelationID string `json:"correlation_id"`
		}
		require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
		return entry.CorrelationID
	}

	r.Apply(context.Background(), []byte(`{"id":1,"status":"COMPLIANT","ownerEmail":"test@example.com","correlationId":"job-7"}`))
	assert.Equal(t, "job-7", lastCID())

	r.Apply(context.Background(), []byte(`{"id":99,"status":"COMPLIANT","ownerEmail":"test@example.com"}`))
	assert.Len(t, lastCID(), 36, "generated uuid")

	r.Apply(context.Background(), []byte(`{garbage`))
	assert.NotEmpty(t, lastCID())
}

func TestApply_RecoversPanic(t *testing.T) {
	statuses := newMockStatuses()
	statuses.panicOn = 5
	r := newTestReconciler(statuses, memq.New())

	var got string
	assert.NotPanics(t, func() {
		got = r.Apply(context.Background(), []byte(`{"id":5,"status":"COMPLIANT","ownerEmail":"test@example.com"}`))
	})
	assert.Equal(t, metrics.OutcomeFailed, got)
}

func TestApplyUpdate_ReturnsErrors(t *testing.T) {
	statuses := newMockStatuses()
	statuses.seed(1, "test@example.com")
	r := newTestReconciler(statuses, memq.New())
	ctx := context.Background()

	err := r.ApplyUpdate(ctx, model.StatusUpdate{ID: 1, Status: "compliant", OwnerEmail: "test@example.com"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompliant, statuses.get(1, "test@example.com"))

	err = r.ApplyUpdate(ctx, model.StatusUpdate{ID: 1, Status: "bogus", OwnerEmail: "test@example.com"})
	assert.ErrorIs(t, err, apperror.ErrMalformed)

	err = r.ApplyUpdate(ctx, model.StatusUpdate{ID: 2, Status: "COMPLIANT", OwnerEmail: "test@example.com"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

// =========================================================================
// LOOP TESTS
// =========================================================================

func TestLoop_AppliesInOrderAndSurvivesBadMessages(t *testing.T) {
	statuses := newMockStatuses()
	statuses.seed(1, "test@example.com")
	statuses.seed(2, "test@example.com")
	q := memq.New()
	r := newTestReconciler(statuses, q)
	ctx := context.Background()

	msgs := []string{
		`not json`,
		`{"id":1,"status":"NOT_COMPLIANT","ownerEmail":"test@example.com"}`,
		`{"id":404,"status":"COMPLIANT","ownerEmail":"test@example.com"}`,
		`{"id":1,"status":"COMPLIANT","ownerEmail":"test@example.com"}`,
		`{"id":2,"status":"COMPLIANT","ownerEmail":"test@example.com"}`,
	}
	for _, m := range msgs {
		require.NoError(t, q.Push(ctx, queue.DefaultStatusQueue, []byte(m)))
	}

	r.Start(ctx)
	defer r.Stop()

	require.Eventually(t, func() bool {
		return q.Len(queue.DefaultStatusQueue) == 0 &&
			statuses.get(2, "test@example.com") == model.StatusCompliant
	}, 2*time.Second, 10*time.Millisecond)

	// The later verdict for snippet 1 wins.
	assert.Equal(t, model.StatusCompliant, statuses.get(1, "test@example.com"))
}

func TestLoop_BacksOffOnQueueErrors(t *testing.T) {
	statuses := newMockStatuses()
	statuses.seed(1, "test@example.com")
	q := memq.New()
	consumer := &flakyConsumer{Consumer: q, failures: 2}
	r := newTestReconciler(statuses, consumer)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, queue.DefaultStatusQueue,
		[]byte(`{"id":1,"status":"COMPLIANT","ownerEmail":"test@example.com"}`)))

	r.Start(ctx)
	defer r.Stop()

	require.Eventually(t, func() bool {
		return statuses.get(1, "test@example.com") == model.StatusCompliant
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, consumer.calls.Load(), int32(3))
}

func TestLoop_StopIsPromptAndIdempotent(t *testing.T) {
	r := New(newMockStatuses(), memq.New(), Config{PollTimeout: time.Minute}, nil, testLogger())
	r.Start(context.Background())

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the blocking receive")
	}
}

func TestStopWithoutStart(t *testing.T) {
	r := New(newMockStatuses(), memq.New(), Config{}, nil, testLogger())
	assert.NotPanics(t, r.Stop)
}
