package tasksync

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/agentworkforce/taskmirror/internal/taskmirror"
)

// TokenSource supplies the bearer token per request, so rotated credentials
// apply without rebuilding the client. An empty token disables the header.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource for a fixed credential.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Client is the request/response surface of the dashboard authority. The
// engine treats every call as an opaque async operation whose failure is
// logged and swallowed.
type Client interface {
	ListTasks(ctx context.Context) ([]taskmirror.Task, error)
	GetStats(ctx context.Context) (taskmirror.Stats, error)
	GetTask(ctx context.Context, taskID string) (taskmirror.Task, error)
	GetActivity(ctx context.Context, taskID string) ([]taskmirror.Activity, error)
	GetQuestions(ctx context.Context, taskID string) ([]taskmirror.Question, error)
	GetArtifacts(ctx context.Context, taskID string) ([]taskmirror.Artifact, error)
	ListAgents(ctx context.Context) ([]taskmirror.Agent, error)
	AnswerQuestion(ctx context.Context, taskID, questionID, answer string) error
}

// HTTPError reports a non-2xx authority response.
type HTTPError struct {
	StatusCode int
	Operation  string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: http %d", e.Operation, e.StatusCode)
}

type HTTPClientOptions struct {
	BaseURL    string
	Tokens     TokenSource
	Timeout    time.Duration
	MaxRetries int
}

// HTTPClient talks to the authority's REST API with bounded retries on
// transient failures (429 and 5xx).
type HTTPClient struct {
	http   *resty.Client
	tokens TokenSource
}

func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8420"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = 3
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("User-Agent", "taskmirror/1.0").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			code := resp.StatusCode()
			return code == http.StatusTooManyRequests || code >= 500
		})

	return &HTTPClient{http: client, tokens: opts.Tokens}
}

func (c *HTTPClient) ListTasks(ctx context.Context) ([]taskmirror.Task, error) {
	var out []taskmirror.Task
	if err := c.get(ctx, "list tasks", "/api/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) GetStats(ctx context.Context) (taskmirror.Stats, error) {
	var out taskmirror.Stats
	if err := c.get(ctx, "get stats", "/api/stats", nil, &out); err != nil {
		return taskmirror.Stats{}, err
	}
	return out, nil
}

func (c *HTTPClient) GetTask(ctx context.Context, taskID string) (taskmirror.Task, error) {
	var out taskmirror.Task
	if err := c.get(ctx, "get task", "/api/tasks/"+taskID, nil, &out); err != nil {
		return taskmirror.Task{}, err
	}
	return out, nil
}

func (c *HTTPClient) GetActivity(ctx context.Context, taskID string) ([]taskmirror.Activity, error) {
	var out []taskmirror.Activity
	params := map[string]string{"limit": "50", "include_children": "true"}
	if err := c.get(ctx, "get activity", "/api/tasks/"+taskID+"/activity", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) GetQuestions(ctx context.Context, taskID string) ([]taskmirror.Question, error) {
	var out []taskmirror.Question
	params := map[string]string{"include_children": "true"}
	if err := c.get(ctx, "get questions", "/api/tasks/"+taskID+"/questions", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) GetArtifacts(ctx context.Context, taskID string) ([]taskmirror.Artifact, error) {
	var out []taskmirror.Artifact
	params := map[string]string{"include_children": "true"}
	if err := c.get(ctx, "get artifacts", "/api/tasks/"+taskID+"/artifacts", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) ListAgents(ctx context.Context) ([]taskmirror.Agent, error) {
	var out []taskmirror.Agent
	if err := c.get(ctx, "list agents", "/api/agents", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) AnswerQuestion(ctx context.Context, taskID, questionID, answer string) error {
	resp, err := c.request(ctx).
		SetBody(map[string]string{"answer": answer}).
		Post("/api/tasks/" + taskID + "/questions/" + questionID + "/answer")
	if err != nil {
		return fmt.Errorf("answer question: %w", err)
	}
	if resp.IsError() {
		return &HTTPError{StatusCode: resp.StatusCode(), Operation: "answer question"}
	}
	return nil
}

func (c *HTTPClient) get(ctx context.Context, op, path string, params map[string]string, out any) error {
	req := c.request(ctx).SetResult(out)
	if params != nil {
		req.SetQueryParams(params)
	}
	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return &HTTPError{StatusCode: resp.StatusCode(), Operation: op}
	}
	return nil
}

func (c *HTTPClient) request(ctx context.Context) *resty.Request {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-Correlation-Id", "mirror_"+uuid.NewString())
	if c.tokens != nil {
		if token := strings.TrimSpace(c.tokens.Token()); token != "" {
			req.SetAuthToken(token)
		}
	}
	return req
}
