package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/llamafarm/llamafarm/pkg/types"
)

// Client talks to the LlamaFarm API server
type Client struct {
	baseURL string
	session string
	http    *http.Client
}

// New creates a client for the given server URL
func New(serverURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		// No flat timeout: SSE streams and synchronous queries outlive
		// any sensible fixed value; callers bound requests via context.
		http: &http.Client{},
	}
}

// WithSession attaches a session id sent as X-Session-ID on every
// request; empty ids are ignored.
func (c *Client) WithSession(id string) *Client {
	c.session = id
	return c
}

func (c *Client) decorate(req *http.Request) {
	if c.session != "" {
		req.Header.Set("X-Session-ID", c.session)
	}
}

// TaskStatus mirrors the server's task payload
type TaskStatus struct {
	TaskID   string            `json:"task_id"`
	State    types.TaskState   `json:"state"`
	Result   json.RawMessage   `json:"result,omitempty"`
	Error    *types.Failure    `json:"error,omitempty"`
	Children []string          `json:"children,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Reachable reports whether the server answers its health endpoint
func (c *Client) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Health fetches the aggregated health report
func (c *Client) Health(ctx context.Context) (*types.HealthReport, error) {
	var report types.HealthReport
	if err := c.getJSON(ctx, "/v1/health", &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Ingest dispatches an ingest job and returns the task id
func (c *Client) Ingest(ctx context.Context, namespace, project, database, sourcePath, dataset string) (string, error) {
	path := fmt.Sprintf("/v1/projects/%s/%s/datasets/%s/ingest",
		url.PathEscape(namespace), url.PathEscape(project), url.PathEscape(database))

	var resp map[string]string
	err := c.postJSON(ctx, path, map[string]string{
		"source_path": sourcePath,
		"dataset":     dataset,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp["task_id"], nil
}

// Task polls one task
func (c *Client) Task(ctx context.Context, taskID string) (*TaskStatus, error) {
	var status TaskStatus
	if err := c.getJSON(ctx, "/v1/tasks/"+url.PathEscape(taskID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// AwaitTask polls until the task is terminal or ctx is done
func (c *Client) AwaitTask(ctx context.Context, taskID string, interval time.Duration, progress func(*TaskStatus)) (*TaskStatus, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Task(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if progress != nil {
			progress(status)
		}
		if status.State.Terminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Revoke cancels a task
func (c *Client) Revoke(ctx context.Context, taskID string, terminate bool) error {
	path := "/v1/tasks/" + url.PathEscape(taskID)
	if terminate {
		path += "?terminate=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()
	return c.checkStatus(resp)
}

// Query runs a retrieval query
func (c *Client) Query(ctx context.Context, database, query string, topK int) (*TaskStatus, error) {
	var status TaskStatus
	err := c.postJSON(ctx, "/v1/rag/"+url.PathEscape(database)+"/query", map[string]interface{}{
		"query": query,
		"top_k": topK,
	}, &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// Stats fetches a database's chunk and document counts
func (c *Client) Stats(ctx context.Context, database string) (*TaskStatus, error) {
	var status TaskStatus
	if err := c.getJSON(ctx, "/v1/rag/"+url.PathEscape(database)+"/stats", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Datasets lists the project's configured datasets
func (c *Client) Datasets(ctx context.Context, namespace, project string) ([]map[string]interface{}, error) {
	path := fmt.Sprintf("/v1/projects/%s/%s/datasets", url.PathEscape(namespace), url.PathEscape(project))
	var resp struct {
		Datasets []map[string]interface{} `json:"datasets"`
	}
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Datasets, nil
}

// Download streams model-download events, invoking handle per event
// until the terminal event arrives or ctx is cancelled.
func (c *Client) Download(ctx context.Context, model string, handle func(types.DownloadEvent)) error {
	endpoint := c.baseURL + "/v1/models/download?model=" + url.QueryEscape(model)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.decorate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.checkStatus(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev types.DownloadEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		if handle != nil {
			handle(ev)
		}
		switch ev.Type {
		case types.DownloadDone:
			return nil
		case types.DownloadError:
			return fmt.Errorf("%s", ev.Message)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("download stream broken: %w", err)
	}
	return fmt.Errorf("download stream ended without a terminal event")
}

// Chat proxies a chat request, streaming the raw response to out
func (c *Client) Chat(ctx context.Context, body []byte, out io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return c.checkStatus(resp)
	}
	_, err = io.Copy(out, resp.Body)
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.decorate(req)
	return c.doJSON(req, v)
}

func (c *Client) postJSON(ctx context.Context, path string, body, v interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req)
	return c.doJSON(req, v)
}

func (c *Client) doJSON(req *http.Request, v interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Message)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
