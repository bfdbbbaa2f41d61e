package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/sakif/snippet-manager/internal/apperror"
	"github.com/sakif/snippet-manager/internal/correlation"
	"github.com/sakif/snippet-manager/internal/model"
)

// DirectoryConfig points at the identity provider's management API.
type DirectoryConfig struct {
	BaseURL      string // e.g. https://tenant.eu.auth0.com
	ClientID     string
	ClientSecret string
	Audience     string // defaults to {BaseURL}/api/v2/
	Timeout      time.Duration
}

// Directory lists users registered with the identity provider.
//
// CLIENT CREDENTIALS FLOW:
// There is no end user in this call. The service authenticates as itself:
// clientcredentials.Config POSTs ClientID/ClientSecret to the token
// endpoint and caches the returned access token until it expires. The
// *http.Client it returns adds "Authorization: Bearer <token>" to every
// request and refreshes the token transparently.
type Directory struct {
	baseURL string
	client  *http.Client
}

func NewDirectory(cfg DirectoryConfig) *Directory {
	base := strings.TrimRight(cfg.BaseURL, "/")
	audience := cfg.Audience
	if audience == "" {
		audience = base + "/api/v2/"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	cc := &clientcredentials.Config{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		TokenURL:       base + "/oauth/token",
		EndpointParams: url.Values{"audience": {audience}},
	}

	// The context given to Client is used for token requests; it must
	// outlive any single request.
	client := cc.Client(context.Background())
	client.Timeout = timeout

	return &Directory{baseURL: base, client: client}
}

// ListUsers returns one page (0-based) of users, optionally filtered by a
// nickname substring.
func (d *Directory) ListUsers(ctx context.Context, page, perPage int, name string) ([]model.User, error) {
	q := url.Values{}
	q.Set("fields", "email,nickname")
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	if name = strings.TrimSpace(name); name != "" {
		q.Set("q", nicknameQuery(name))
		q.Set("search_engine", "v3")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/api/v2/users?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building users request: %w", err)
	}
	if cid := correlation.FromContext(ctx); cid != "" {
		req.Header.Set(correlation.Header, cid)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, apperror.Upstream(fmt.Sprintf("error listing users: %v", err), true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apperror.Upstream(
			fmt.Sprintf("error listing users: %s", strings.TrimSpace(string(body))),
			resp.StatusCode >= 500,
		)
	}

	var users []model.User
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("auth: decoding users response: %w", err)
	}
	return users, nil
}

var luceneEscaper = strings.NewReplacer(
	`\`, `\\`, `+`, `\+`, `-`, `\-`, `&`, `\&`, `|`, `\|`, `!`, `\!`,
	`(`, `\(`, `)`, `\)`, `{`, `\{`, `}`, `\}`, `[`, `\[`, `]`, `\]`,
	`^`, `\^`, `"`, `\"`, `~`, `\~`, `*`, `\*`, `?`, `\?`, `:`, `\:`,
	`/`, `\/`, ` `, `\ `,
)

// nicknameQuery is the user-search substring match on nickname. The name is
// escaped so it is matched literally instead of parsed as query syntax.
func nicknameQuery(name string) string {
	return "nickname:*" + luceneEscaper.Replace(name) + "*"
}
