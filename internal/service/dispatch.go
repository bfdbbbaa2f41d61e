package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rs/xid"

	"github.com/sakif/snippet-manager/internal/apperror"
	"github.com/sakif/snippet-manager/internal/correlation"
	"github.com/sakif/snippet-manager/internal/metrics"
	"github.com/sakif/snippet-manager/internal/model"
	"github.com/sakif/snippet-manager/internal/queue"
	"github.com/sakif/snippet-manager/internal/repository"
)

// QueueNames are the channels jobs are pushed to.
type QueueNames struct {
	SCA       string // bulk analysis
	Format    string // bulk formatting
	SCASingle string // one-off analysis
}

// DefaultQueueNames matches the names the workers listen on.
func DefaultQueueNames() QueueNames {
	return QueueNames{
		SCA:       queue.DefaultSCAQueue,
		Format:    queue.DefaultFormatQueue,
		SCASingle: queue.DefaultSCASingleQueue,
	}
}

// DispatchService turns rule changes into per-snippet jobs.
//
// ENVELOPES:
// Each job is a flat JSON record. Workers never call back into this
// service for rules; everything a worker needs (snippet ID, rules,
// language, requester) travels in the envelope. JobID is an xid so
// duplicate deliveries can be spotted in worker logs.
//
// FAILURE MODEL:
// Bulk dispatch is best-effort. Jobs are pushed one by one in snippet
// ID order and the first failed push stops the loop; the jobs already
// pushed stay queued. The caller gets the number pushed plus the error.
type DispatchService struct {
	snippets repository.SnippetRepository
	queue    queue.Publisher
	names    QueueNames
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewDispatchService(snippets repository.SnippetRepository, q queue.Publisher, names QueueNames, m *metrics.Metrics, logger *slog.Logger) *DispatchService {
	return &DispatchService{
		snippets: snippets,
		queue:    q,
		names:    names,
		metrics:  m,
		logger:   logger,
	}
}

// DispatchBulkAnalysis pushes one analysis job per snippet authored by
// requester. A blank rules.Language falls back to each snippet's language.
func (d *DispatchService) DispatchBulkAnalysis(ctx context.Context, rules model.SCARules, requester string) (int, error) {
	snippets, err := d.snippets.ListByAuthor(ctx, requester)
	if err != nil {
		return 0, fmt.Errorf("listing snippets for analysis: %w", err)
	}

	for i, s := range snippets {
		lang := rules.Language
		if lang == "" {
			lang = s.Language
		}
		job := model.SCAJob{
			JobID:         xid.New().String(),
			SnippetID:     s.ID,
			Rules:         nonNil(rules.Rules),
			Language:      lang,
			Requester:     requester,
			CorrelationID: correlation.FromContext(ctx),
		}
		if err := d.push(ctx, d.names.SCA, job); err != nil {
			d.logger.Error("bulk analysis dispatch stopped",
				slog.String("requester", requester),
				slog.Int("dispatched", i),
				slog.Int("total", len(snippets)),
				slog.String("error", err.Error()),
				correlation.Attr(ctx),
			)
			return i, err
		}
	}

	d.logger.Info("bulk analysis dispatched",
		slog.String("requester", requester),
		slog.Int("jobs", len(snippets)),
		correlation.Attr(ctx),
	)
	return len(snippets), nil
}

// DispatchBulkFormat pushes one format job per snippet authored by
// requester.
func (d *DispatchService) DispatchBulkFormat(ctx context.Context, rules model.FormatRules, requester string) (int, error) {
	snippets, err := d.snippets.ListByAuthor(ctx, requester)
	if err != nil {
		return 0, fmt.Errorf("listing snippets for formatting: %w", err)
	}

	for i, s := range snippets {
		job := model.FormatJob{
			JobID:         xid.New().String(),
			SnippetID:     s.ID,
			FormatRules:   nonNil(rules.FormatRules),
			LintingRules:  nonNil(rules.LintingRules),
			Requester:     requester,
			CorrelationID: correlation.FromContext(ctx),
		}
		if err := d.push(ctx, d.names.Format, job); err != nil {
			d.logger.Error("bulk format dispatch stopped",
				slog.String("requester", requester),
				slog.Int("dispatched", i),
				slog.Int("total", len(snippets)),
				slog.String("error", err.Error()),
				correlation.Attr(ctx),
			)
			return i, err
		}
	}

	d.logger.Info("bulk format dispatched",
		slog.String("requester", requester),
		slog.Int("jobs", len(snippets)),
		correlation.Attr(ctx),
	)
	return len(snippets), nil
}

// DispatchSingleAnalysis pushes one analysis job for snippet on the
// one-off queue, on behalf of requester.
func (d *DispatchService) DispatchSingleAnalysis(ctx context.Context, snippet *model.Snippet, requester string) error {
	job := model.SCAJob{
		JobID:         xid.New().String(),
		SnippetID:     snippet.ID,
		Rules:         []model.Rule{},
		Language:      snippet.Language,
		Requester:     requester,
		CorrelationID: correlation.FromContext(ctx),
	}
	if err := d.push(ctx, d.names.SCASingle, job); err != nil {
		return err
	}

	d.logger.Info("analysis dispatched",
		slog.Int64("snippet_id", snippet.ID),
		slog.String("requester", requester),
		correlation.Attr(ctx),
	)
	return nil
}

func (d *DispatchService) push(ctx context.Context, name string, job any) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}
	if err := d.queue.Push(ctx, name, payload); err != nil {
		return apperror.Upstream(fmt.Sprintf("error dispatching job: %v", err), true)
	}
	d.metrics.JobDispatched(name)
	return nil
}

func nonNil(rules []model.Rule) []model.Rule {
	if rules == nil {
		return []model.Rule{}
	}
	return rules
}
