/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agentsession

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the session platform surface the scheduler consumes.
type Client interface {
	ListSessions(ctx context.Context) ([]Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error)
	ApprovePlan(ctx context.Context, id string) error
	SendMessage(ctx context.Context, id, text string) error
}

// APIClient implements Client against the platform's REST API.
type APIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Client = (*APIClient)(nil)

// APIOption configures an APIClient.
type APIOption func(*APIClient)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) APIOption {
	return func(c *APIClient) {
		c.httpClient = hc
	}
}

// NewAPIClient returns a client for the API rooted at baseURL
// (including the version segment), authenticating with apiKey.
func NewAPIClient(baseURL, apiKey string, opts ...APIOption) *APIClient {
	c := &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wire types. The platform returns resource names like "sessions/<id>"
// and wraps the repo branch in a source context.
type wireSession struct {
	Name          string    `json:"name"`
	Title         string    `json:"title"`
	State         string    `json:"state"`
	CreateTime    time.Time `json:"createTime"`
	SourceContext *struct {
		GitHubRepoContext *struct {
			StartingBranch string `json:"startingBranch"`
		} `json:"githubRepoContext"`
	} `json:"sourceContext"`
}

func (w wireSession) toSession() Session {
	s := Session{
		ID:         strings.TrimPrefix(w.Name, "sessions/"),
		Title:      w.Title,
		State:      State(w.State),
		CreateTime: w.CreateTime,
	}
	if w.SourceContext != nil && w.SourceContext.GitHubRepoContext != nil {
		s.StartingBranch = w.SourceContext.GitHubRepoContext.StartingBranch
	}
	return s
}

// ListSessions returns the most recent sessions, newest first as the
// platform orders them.
func (c *APIClient) ListSessions(ctx context.Context) ([]Session, error) {
	var body struct {
		Sessions []wireSession `json:"sessions"`
	}
	q := url.Values{"pageSize": []string{"100"}}
	if err := c.do(ctx, http.MethodGet, "/sessions?"+q.Encode(), nil, &body); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	out := make([]Session, 0, len(body.Sessions))
	for _, w := range body.Sessions {
		out = append(out, w.toSession())
	}
	return out, nil
}

// GetSession returns one session by bare id.
func (c *APIClient) GetSession(ctx context.Context, id string) (*Session, error) {
	var w wireSession
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), nil, &w); err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	s := w.toSession()
	return &s, nil
}

// CreateSession creates a new session and returns it.
func (c *APIClient) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	payload := map[string]any{
		"prompt": req.Prompt,
		"title":  req.Title,
		"sourceContext": map[string]any{
			"source": fmt.Sprintf("sources/github/%s/%s", req.Owner, req.Repo),
			"githubRepoContext": map[string]any{
				"startingBranch": req.Branch,
			},
		},
		"requirePlanApproval": req.RequirePlanApproval,
	}
	if req.AutomationMode != "" {
		payload["automationMode"] = req.AutomationMode
	}

	var w wireSession
	if err := c.do(ctx, http.MethodPost, "/sessions", payload, &w); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	s := w.toSession()
	return &s, nil
}

// ApprovePlan approves a session's pending plan.
func (c *APIClient) ApprovePlan(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(id)+":approvePlan", map[string]any{}, nil); err != nil {
		return fmt.Errorf("approving plan for session %s: %w", id, err)
	}
	return nil
}

// SendMessage posts a user message into a session.
func (c *APIClient) SendMessage(ctx context.Context, id, text string) error {
	payload := map[string]any{"prompt": text}
	if err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(id)+":sendMessage", payload, nil); err != nil {
		return fmt.Errorf("sending message to session %s: %w", id, err)
	}
	return nil
}

func (c *APIClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
