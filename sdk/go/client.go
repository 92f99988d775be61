package gatelinesdk

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

// Client is a minimal Gateline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/v0.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model (partial).
type Project struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Client  string `json:"client,omitempty"`
	DealRef string `json:"deal_ref,omitempty"`
	Status  string `json:"status"`
}

// Stage represents a pipeline stage.
type Stage struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Type      string `json:"type"`
	Label     string `json:"label"`
	Status    string `json:"status"`
	Order     int    `json:"order"`
}

// Gate is the gate preview attached to a stage.
type Gate struct {
	Passed bool     `json:"passed"`
	Unmet  []string `json:"unmet"`
}

// StageDetail is a stage with its deliverables and gate preview.
type StageDetail struct {
	Stage Stage  `json:"stage"`
	Tasks []Task `json:"tasks"`
	Gate  Gate   `json:"gate"`
}

// Score is the timeliness score of a submission.
type Score struct {
	Score        int `json:"score"`
	LatenessDays int `json:"lateness_days"`
}

// Task represents the API task model (partial).
type Task struct {
	ID        string  `json:"id"`
	StageID   string  `json:"stage_id"`
	ProjectID string  `json:"project_id"`
	Title     string  `json:"title"`
	Status    string  `json:"status"`
	OwnerID   *string `json:"owner_id,omitempty"`
	DueDate   *string `json:"due_date,omitempty"`
	Score     *Score  `json:"score,omitempty"`
}

// SubmitResult is returned by SubmitTask.
type SubmitResult struct {
	Task     Task  `json:"task"`
	Score    Score `json:"score"`
	Sibling  *Task `json:"sibling,omitempty"`
	Replayed bool  `json:"replayed"`
}

// Requisition represents a material requisition.
type Requisition struct {
	ID                  string `json:"id"`
	Number              string `json:"number"`
	MaterialType        string `json:"material_type"`
	RequisitionApproval string `json:"requisition_approval"`
	PMApproval          string `json:"pm_approval"`
	QSApproval          string `json:"qs_approval"`
	Status              string `json:"status"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	// Unmet lists the failed gate requirements of a 422.
	Unmet []string
	Body  string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project with its stage pipeline.
func (c *Client) CreateProject(ctx context.Context, name, client, dealRef string) (Project, error) {
	body := map[string]any{"name": name, "client": client, "deal_ref": dealRef}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", nil, body, &resp)
	return resp, err
}

// Stages lists a project's stages in order.
func (c *Client) Stages(ctx context.Context, projectID string) ([]Stage, error) {
	var resp []Stage
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%s/stages", url.PathEscape(projectID)), nil, nil, &resp)
	return resp, err
}

// Stage fetches a stage with its gate preview.
func (c *Client) Stage(ctx context.Context, stageID string) (StageDetail, error) {
	var resp StageDetail
	err := c.do(ctx, http.MethodGet, "stages/"+url.PathEscape(stageID), nil, nil, &resp)
	return resp, err
}

// CloseStage closes a stage when its gate passes.
func (c *Client) CloseStage(ctx context.Context, stageID string) (StageDetail, error) {
	var resp StageDetail
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("stages/%s/close", url.PathEscape(stageID)), nil, nil, &resp)
	return resp, err
}

// SubmitTask submits a deliverable. A non-empty idempotencyKey makes retries safe.
func (c *Client) SubmitTask(ctx context.Context, taskID, fileLink, idempotencyKey string) (SubmitResult, error) {
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": idempotencyKey}
	}
	var resp SubmitResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/submit", url.PathEscape(taskID)), headers, map[string]any{"file_link": fileLink}, &resp)
	return resp, err
}

// MyTasks lists the caller's open and revision-requested tasks.
func (c *Client) MyTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "me/tasks", nil, nil, &resp)
	return resp, err
}

// SetApproval records an approval decision for one slot.
func (c *Client) SetApproval(ctx context.Context, requisitionID, slot, decision string) (Requisition, error) {
	var resp Requisition
	body := map[string]any{"slot": slot, "decision": decision}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("requisitions/%s/approvals", url.PathEscape(requisitionID)), nil, body, &resp)
	return resp, err
}

// SignHandover signs the execution handover for a project.
func (c *Client) SignHandover(ctx context.Context, projectID string) (Project, error) {
	var resp struct {
		Project Project `json:"project"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%s/handover", url.PathEscape(projectID)), nil, nil, &resp)
	return resp.Project, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, headers map[string]string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details struct {
				Unmet []string `json:"unmet"`
			} `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Unmet = env.Error.Details.Unmet
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
