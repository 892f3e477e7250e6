// Package client talks to the board persistence service.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

const maxErrorBody = 64 << 10

// RequestError is returned for any non-2xx response.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type page[T any] struct {
	Content       []T  `json:"content"`
	TotalElements int  `json:"totalElements"`
	TotalPages    int  `json:"totalPages"`
	Size          int  `json:"size"`
	Number        int  `json:"number"`
	First         bool `json:"first"`
	Last          bool `json:"last"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Client wraps http.Client with the persistence service endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	log     *log.Logger
}

// New creates a Client for the API rooted at baseURL, for example
// http://localhost:8088/api.
func New(baseURL string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     logger,
	}
}

// Authenticate exchanges credentials for a bearer token.
func (c *Client) Authenticate(ctx context.Context, username, password string) (string, error) {
	var resp loginResponse
	if err := c.do(ctx, "authenticate", http.MethodPost, "/login", "/login", "", loginRequest{username, password}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("authenticate: empty token in response")
	}
	return resp.Token, nil
}

// ListBoards returns the boards visible to the token holder.
func (c *Client) ListBoards(ctx context.Context, token string) ([]domain.Board, error) {
	var p page[domain.Board]
	if err := c.do(ctx, "list_boards", http.MethodGet, "/boards", "/boards", token, nil, &p); err != nil {
		return nil, err
	}
	return p.Content, nil
}

// GetBoard fetches one board.
func (c *Client) GetBoard(ctx context.Context, boardID, token string) (domain.Board, error) {
	var b domain.Board
	path := "/boards/" + url.PathEscape(boardID)
	if err := c.do(ctx, "get_board", http.MethodGet, path, "/boards/{boardId}", token, nil, &b); err != nil {
		return domain.Board{}, err
	}
	return b, nil
}

// ListTasks fetches every task of a board, pageSize tasks per request. A
// non-positive pageSize leaves the page size to the server.
func (c *Client) ListTasks(ctx context.Context, boardID, token string, pageSize int) ([]domain.Task, error) {
	var tasks []domain.Task
	for number := 0; ; number++ {
		q := url.Values{}
		if pageSize > 0 {
			q.Set("size", strconv.Itoa(pageSize))
		}
		if number > 0 {
			q.Set("page", strconv.Itoa(number))
		}
		path := "/boards/" + url.PathEscape(boardID) + "/tasks"
		if enc := q.Encode(); enc != "" {
			path += "?" + enc
		}
		var p page[domain.Task]
		if err := c.do(ctx, "list_tasks", http.MethodGet, path, "/boards/{boardId}/tasks", token, nil, &p); err != nil {
			return nil, err
		}
		tasks = append(tasks, p.Content...)
		if p.Last || len(p.Content) == 0 || number+1 >= p.TotalPages {
			return tasks, nil
		}
	}
}

// CreateTask creates a task and returns the server record.
func (c *Client) CreateTask(ctx context.Context, boardID, token string, draft domain.TaskDraft) (domain.Task, error) {
	var t domain.Task
	path := "/boards/" + url.PathEscape(boardID) + "/tasks"
	if err := c.do(ctx, "create_task", http.MethodPost, path, "/boards/{boardId}/tasks", token, draft, &t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// UpdateTask sends a partial update and returns the server record.
func (c *Client) UpdateTask(ctx context.Context, boardID, taskID, token string, patch domain.TaskPatch) (domain.Task, error) {
	var t domain.Task
	path := "/boards/" + url.PathEscape(boardID) + "/tasks/" + url.PathEscape(taskID)
	if err := c.do(ctx, "update_task", http.MethodPut, path, "/boards/{boardId}/tasks/{taskId}", token, patch, &t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, boardID, taskID, token string) error {
	path := "/boards/" + url.PathEscape(boardID) + "/tasks/" + url.PathEscape(taskID)
	return c.do(ctx, "delete_task", http.MethodDelete, path, "/boards/{boardId}/tasks/{taskId}", token, nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path, route, token string, body, out any) (err error) {
	metrics, ctx := newRequestMetrics(ctx, c.log, op, method, route)
	status := 0
	defer func() {
		metrics.Log(status, err)
	}()

	var reader io.Reader
	if body != nil {
		payload, err := sonic.ConfigStd.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newRequestError(resp)
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func newRequestError(resp *http.Response) *RequestError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(data))
	var er errorResponse
	if len(data) > 0 && sonic.ConfigStd.Unmarshal(data, &er) == nil && er.Message != "" {
		msg = er.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &RequestError{StatusCode: resp.StatusCode, Message: msg}
}
