// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// Two more collaborators sit beside the repository here:
//   - content.Store holds the snippet source text (asset service or S3)
//   - DispatchService pushes analysis/format jobs onto the queues
//
// WHY ORCHESTRATION NEEDS CARE:
// A snippet lives in two places: its metadata row in the database and its
// code in the content store. There is no transaction spanning both. Every
// operation that touches both therefore follows the same rule:
//
//	the database must never point at content that is not there.
//
// Each such operation snapshots what it needs before the first write and,
// if a later step fails, undoes the earlier steps (a compensating action)
// before returning the error. The compensations run on a context detached
// from the request's cancellation, so a client hanging up mid-request does
// not leave half-written state behind.
//
// AUTHORIZATION:
// The service receives the caller's email (from the JWT) as a plain string.
// Every rule about who may do what lives here, not in the handlers:
//   - only the author edits, shares or deletes a snippet outright
//   - a grantee may view it, re-analyse it and remove their own access
//   - nobody else sees it
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/snippet-manager/internal/apperror"
	"github.com/sakif/snippet-manager/internal/content"
	"github.com/sakif/snippet-manager/internal/correlation"
	"github.com/sakif/snippet-manager/internal/model"
	"github.com/sakif/snippet-manager/internal/repository"
)

// Validation constants.
const (
	MaxSnippetNameLength = 100
	MaxCodeLength        = 100000 // ~100KB of code
	DefaultPageSize      = 10
	MaxPageSize          = 100

	// MaxSearchOffset bounds page*size so the offset fits every backend.
	MaxSearchOffset = math.MaxInt32
)

var validate = validator.New()

// Dispatcher is the part of DispatchService the snippet service uses.
type Dispatcher interface {
	DispatchBulkAnalysis(ctx context.Context, rules model.SCARules, requester string) (int, error)
	DispatchBulkFormat(ctx context.Context, rules model.FormatRules, requester string) (int, error)
	DispatchSingleAnalysis(ctx context.Context, snippet *model.Snippet, requester string) error
}

// SnippetService handles the snippet lifecycle: create, edit, view, search,
// share, delete and the rule-change flows that reset statuses.
type SnippetService struct {
	repo       repository.Store
	content    content.Store
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewSnippetService(repo repository.Store, store content.Store, dispatcher Dispatcher, logger *slog.Logger) *SnippetService {
	return &SnippetService{
		repo:       repo,
		content:    store,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Create validates input, stores the metadata (with the author's PENDING
// status) and then the content.
//
// If the content store rejects the code, the metadata is deleted again and
// the content store's error is returned.
func (s *SnippetService) Create(ctx context.Context, requester string, in model.SnippetInput) (*model.SnippetView, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Language = strings.TrimSpace(in.Language)
	in.Extension = strings.TrimSpace(in.Extension)

	switch {
	case in.Name == "":
		return nil, apperror.ValidationFailed("name", "snippet name is required")
	case in.Language == "":
		return nil, apperror.ValidationFailed("language", "snippet language is required")
	case strings.TrimSpace(in.Code) == "":
		return nil, apperror.ValidationFailed("code", "snippet code is required")
	case in.Extension == "":
		return nil, apperror.ValidationFailed("extension", "snippet extension is required")
	case len(in.Name) > MaxSnippetNameLength:
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("snippet name must be %d characters or less", MaxSnippetNameLength))
	case len(in.Code) > MaxCodeLength:
		return nil, apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d characters or less", MaxCodeLength))
	}

	snippet := &model.Snippet{
		Name:     in.Name,
		Language: in.Language,
		Author:   requester,
	}
	if err := s.repo.Create(ctx, snippet); err != nil {
		s.logger.Error("failed to create snippet",
			slog.String("name", in.Name),
			slog.String("error", err.Error()),
			correlation.Attr(ctx),
		)
		return nil, fmt.Errorf("creating snippet: %w", err)
	}

	if err := s.content.Put(ctx, snippet.ID, in.Code); err != nil {
		s.logger.Warn("content upload failed, removing snippet",
			slog.Int64("id", snippet.ID),
			slog.String("error", err.Error()),
			correlation.Attr(ctx),
		)
		if cerr := s.repo.Delete(context.WithoutCancel(ctx), snippet.ID); cerr != nil {
			s.logger.Error("compensation failed: snippet row left without content",
				slog.Int64("id", snippet.ID),
				slog.String("error", cerr.Error()),
				correlation.Attr(ctx),
			)
		}
		return nil, err
	}

	s.logger.Info("snippet created",
		slog.Int64("id", snippet.ID),
		slog.String("name", snippet.Name),
		slog.String("author", requester),
		correlation.Attr(ctx),
	)

	return view(snippet, in.Code, model.StatusPending), nil
}

// Edit replaces the content of a snippet. Only the author may edit.
//
// ORDER OF STEPS:
//  1. load snippet, check author, load author status
//  2. snapshot the current content
//  3. status → PENDING
//  4. delete old content, put new content
//
// If step 4 fails the snapshot is written back. The status stays PENDING:
// only the reconciler writes verdicts, so a fresh analysis of the restored
// code is queued instead.
func (s *SnippetService) Edit(ctx context.Context, requester string, id int64, code string) (*model.SnippetView, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperror.ValidationFailed("code", "snippet code is required")
	}
	if len(code) > MaxCodeLength {
		return nil, apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d characters or less", MaxCodeLength))
	}

	snippet, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if snippet.Author != requester {
		return nil, apperror.Unauthorized("only the author can edit this snippet")
	}

	if _, err := s.repo.GetStatus(ctx, id, snippet.Author); err != nil {
		return nil, err
	}

	previous, hadPrevious, err := s.snapshot(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SetStatus(ctx, id, snippet.Author, model.StatusPending); err != nil {
		return nil, fmt.Errorf("resetting status: %w", err)
	}

	restore := func(cause error) error {
		detached := context.WithoutCancel(ctx)
		if hadPrevious {
			if cerr := s.content.Put(detached, id, previous); cerr != nil {
				s.logger.Error("compensation failed: previous content not restored",
					slog.Int64("id", id),
					slog.String("error", cerr.Error()),
					correlation.Attr(ctx),
				)
			}
		}
		if cerr := s.dispatcher.DispatchSingleAnalysis(detached, snippet, requester); cerr != nil {
			s.logger.Warn("re-analysis after failed edit not queued",
				slog.Int64("id", id),
				slog.String("error", cerr.Error()),
				correlation.Attr(ctx),
			)
		}
		return cause
	}

	if err := s.content.Delete(ctx, id); err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return nil, restore(err)
	}
	if err := s.content.Put(ctx, id, code); err != nil {
		return nil, restore(err)
	}

	s.logger.Info("snippet edited",
		slog.Int64("id", id),
		slog.String("author", requester),
		correlation.Attr(ctx),
	)

	return view(snippet, code, model.StatusPending), nil
}

// Get returns a snippet with its content and the author's status.
// The caller must be the author or hold a grant.
func (s *SnippetService) Get(ctx context.Context, requester string, id int64) (*model.SnippetView, error) {
	snippet, err := s.authorize(ctx, requester, id)
	if err != nil {
		return nil, err
	}

	code, err := s.content.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	status, err := s.repo.GetStatus(ctx, id, snippet.Author)
	if err != nil {
		return nil, err
	}

	return view(snippet, code, status.Status), nil
}

// Search returns one page of snippets visible to requester. page is
// 0-based; size defaults to DefaultPageSize and is capped at MaxPageSize.
func (s *SnippetService) Search(ctx context.Context, requester string, filter model.SearchFilter, page, size int) (model.Page[model.SnippetSummary], error) {
	permission, err := model.ParsePermission(filter.Permission)
	if err != nil {
		return model.Page[model.SnippetSummary]{}, apperror.ValidationFailed("permission", err.Error())
	}

	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if page > MaxSearchOffset/size {
		return model.Page[model.SnippetSummary]{}, apperror.ValidationFailed("page",
			fmt.Sprintf("page must be at most %d for size %d", MaxSearchOffset/size, size))
	}

	result, err := s.repo.Search(ctx, model.SearchQuery{
		Requester:  requester,
		Language:   filter.Language,
		Permission: permission,
		Page:       page,
		Size:       size,
	})
	if err != nil {
		s.logger.Error("search failed", slog.String("error", err.Error()), correlation.Attr(ctx))
		return model.Page[model.SnippetSummary]{}, fmt.Errorf("searching snippets: %w", err)
	}
	return result, nil
}

// Share grants email read access to a snippet. Only the author may share.
//
// Checks run in this order: author, existing grant, self-share.
func (s *SnippetService) Share(ctx context.Context, requester string, id int64, email string) (*model.SharedSnippet, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperror.ValidationFailed("shareEmail", "share email is required")
	}
	if err := validate.Var(email, "email"); err != nil {
		return nil, apperror.ValidationFailed("shareEmail", "share email is not a valid address")
	}

	snippet, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if snippet.Author != requester {
		return nil, apperror.Unauthorized("only the author can share this snippet")
	}

	shared, err := s.repo.IsSharedWith(ctx, id, email)
	if err != nil {
		return nil, fmt.Errorf("checking grant: %w", err)
	}
	if shared {
		return nil, apperror.Conflict("already shared")
	}
	if strings.EqualFold(email, snippet.Author) {
		return nil, apperror.Conflict("cannot share with self")
	}

	grant := &model.SharedSnippet{SnippetID: id, UserEmail: email}
	if err := s.repo.Share(ctx, grant); err != nil {
		return nil, err
	}

	s.logger.Info("snippet shared",
		slog.Int64("id", id),
		slog.String("with", email),
		correlation.Attr(ctx),
	)
	return grant, nil
}

// Delete removes a snippet (author) or the caller's own access (grantee).
//
// For the author the content goes first. If the database delete then
// fails, the content is put back from the snapshot taken beforehand.
func (s *SnippetService) Delete(ctx context.Context, requester string, id int64) error {
	snippet, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if snippet.Author != requester {
		shared, err := s.repo.IsSharedWith(ctx, id, requester)
		if err != nil {
			return fmt.Errorf("checking grant: %w", err)
		}
		if !shared {
			return apperror.Unauthorized("not allowed to delete this snippet")
		}
		if err := s.repo.Revoke(ctx, id, requester); err != nil {
			return err
		}
		s.logger.Info("snippet access removed",
			slog.Int64("id", id),
			slog.String("user", requester),
			correlation.Attr(ctx),
		)
		return nil
	}

	previous, hadPrevious, err := s.snapshot(ctx, id)
	if err != nil {
		return err
	}

	if err := s.content.Delete(ctx, id); err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if hadPrevious {
			if cerr := s.content.Put(context.WithoutCancel(ctx), id, previous); cerr != nil {
				s.logger.Error("compensation failed: content lost for surviving snippet",
					slog.Int64("id", id),
					slog.String("error", cerr.Error()),
					correlation.Attr(ctx),
				)
			}
		}
		return fmt.Errorf("deleting snippet: %w", err)
	}

	s.logger.Info("snippet deleted", slog.Int64("id", id), correlation.Attr(ctx))
	return nil
}

// RequestAnalysis marks every status row of requester PENDING and queues
// an analysis job for each snippet they authored. It returns the number
// of jobs queued.
func (s *SnippetService) RequestAnalysis(ctx context.Context, requester string, rules model.SCARules) (int, error) {
	n, err := s.repo.ResetStatusesForUser(ctx, requester, model.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("resetting statuses: %w", err)
	}
	s.logger.Info("statuses reset for analysis",
		slog.String("user", requester),
		slog.Int64("rows", n),
		correlation.Attr(ctx),
	)
	return s.dispatcher.DispatchBulkAnalysis(ctx, rules, requester)
}

// RequestFormat is RequestAnalysis for formatting/linting rules.
func (s *SnippetService) RequestFormat(ctx context.Context, requester string, rules model.FormatRules) (int, error) {
	n, err := s.repo.ResetStatusesForUser(ctx, requester, model.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("resetting statuses: %w", err)
	}
	s.logger.Info("statuses reset for formatting",
		slog.String("user", requester),
		slog.Int64("rows", n),
		correlation.Attr(ctx),
	)
	return s.dispatcher.DispatchBulkFormat(ctx, rules, requester)
}

// Analyze re-queues analysis of a single snippet for the caller (author
// or grantee) and resets the caller's status to PENDING.
func (s *SnippetService) Analyze(ctx context.Context, requester string, id int64) error {
	snippet, err := s.authorize(ctx, requester, id)
	if err != nil {
		return err
	}
	if err := s.repo.SetStatus(ctx, id, requester, model.StatusPending); err != nil {
		return err
	}
	return s.dispatcher.DispatchSingleAnalysis(ctx, snippet, requester)
}

// FileTypes returns the supported languages and their extensions.
func (s *SnippetService) FileTypes() []model.FileType {
	return model.FileTypes()
}

// authorize loads a snippet and checks that requester is its author or a
// grantee.
func (s *SnippetService) authorize(ctx context.Context, requester string, id int64) (*model.Snippet, error) {
	snippet, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if snippet.Author == requester {
		return snippet, nil
	}

	shared, err := s.repo.IsSharedWith(ctx, id, requester)
	if err != nil {
		return nil, fmt.Errorf("checking grant: %w", err)
	}
	if !shared {
		return nil, apperror.Unauthorized("not allowed to access this snippet")
	}
	return snippet, nil
}

// snapshot reads the current content for a later compensation. Missing
// content is not an error: there is simply nothing to restore.
func (s *SnippetService) snapshot(ctx context.Context, id int64) (string, bool, error) {
	code, err := s.content.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return code, true, nil
}

func view(s *model.Snippet, code string, status model.Status) *model.SnippetView {
	return &model.SnippetView{
		ID:        s.ID,
		Name:      s.Name,
		Language:  s.Language,
		Code:      code,
		Author:    s.Author,
		Status:    status.String(),
		Extension: model.ExtensionFor(s.Language),
	}
}
