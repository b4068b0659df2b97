package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/zoho-mcp/zoho-mcp-server/pkg/cache"
	apperrors "github.com/zoho-mcp/zoho-mcp-server/pkg/errors"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/kv"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/logger"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/zoho"
)

// Result TTLs for the task read tools.
const (
	listTasksTTL  = time.Minute
	taskDetailTTL = 30 * time.Second
)

// Idempotency marker for task creation. The window is deliberately short:
// the guarantee is no duplicate from a single assistant turn, not global
// deduplication.
const (
	idemPrefix  = "idem:create_task:"
	idemTTL     = time.Minute
	idemPending = "pending"

	// idemWait bounds how long a loser of the marker race waits for the
	// winner to publish the created identifier.
	idemWait     = 2 * time.Second
	idemWaitStep = 50 * time.Millisecond
)

// TaskHandlers implements the project and task tools over the Projects API.
type TaskHandlers struct {
	client *zoho.Client
	store  kv.Store
	cache  *cache.Cache
}

// NewTaskHandlers creates the task tool handlers.
func NewTaskHandlers(client *zoho.Client, store kv.Store, c *cache.Cache) *TaskHandlers {
	return &TaskHandlers{client: client, store: store, cache: c}
}

// taskView is the normalised task shape returned to assistants.
type taskView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Owner   string `json:"owner,omitempty"`
	Status  string `json:"status"`
	DueDate string `json:"due_date,omitempty"`
	URL     string `json:"url,omitempty"`
}

type taskListResult struct {
	Tasks []taskView `json:"tasks"`
}

// ListTasks lists the tasks of a project, optionally filtered by status.
func (h *TaskHandlers) ListTasks(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	tasks, err := h.fetchTasks(ctx, args["project_id"].(string), optString(args, "status"))
	if err != nil {
		return nil, err
	}
	return json.Marshal(taskListResult{Tasks: tasks})
}

// fetchTasks performs the upstream list call and normalises the response.
func (h *TaskHandlers) fetchTasks(ctx context.Context, projectID, status string) ([]taskView, error) {
	path := fmt.Sprintf("/portal/%s/projects/%s/tasks/", h.client.PortalID(), projectID)
	var query url.Values
	if status != "" {
		query = url.Values{"status": {status}}
	}

	resp, err := h.client.Get(ctx, zoho.Projects, path, query)
	if err != nil {
		return nil, err
	}

	tasks := []taskView{}
	for _, t := range resp.JSON().Get("tasks").Array() {
		tasks = append(tasks, parseTask(t))
	}
	return tasks, nil
}

func parseTask(t gjson.Result) taskView {
	status := t.Get("status").String()
	if status == "" {
		status = "open"
	}
	return taskView{
		ID:      t.Get("id").String(),
		Name:    t.Get("name").String(),
		Owner:   t.Get("owner.name").String(),
		Status:  status,
		DueDate: t.Get("due_date").String(),
		URL:     t.Get("link.self.url").String(),
	}
}

// CreateTask creates a task, suppressing duplicates from retried turns
// through the idempotency marker.
func (h *TaskHandlers) CreateTask(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	projectID := args["project_id"].(string)
	name := args["name"].(string)
	key := idemKey(projectID, name)

	acquired, err := h.store.SetNX(ctx, key, idemPending, idemTTL)
	if err != nil {
		// KV down: fail open and create directly rather than refuse the write.
		logger.Warnf("Idempotency marker unavailable, creating without dedup: %v", err)
		return h.createUpstream(ctx, projectID, name, args, "")
	}
	if !acquired {
		return h.awaitMarker(ctx, key)
	}
	return h.createUpstream(ctx, projectID, name, args, key)
}

// awaitMarker resolves a lost marker race: the winner either already
// published the identifier or is still creating.
func (h *TaskHandlers) awaitMarker(ctx context.Context, key string) (json.RawMessage, error) {
	deadline := time.Now().Add(idemWait)
	for {
		val, err := h.store.Get(ctx, key)
		switch {
		case err == nil && val != idemPending:
			return taskIDResult(val)
		case errors.Is(err, kv.ErrNotFound):
			// The winner failed and dropped the marker.
			return nil, apperrors.NewConflict("a concurrent identical task creation failed, retry", nil)
		}

		if time.Now().After(deadline) {
			return nil, apperrors.NewConflict("an identical task creation is already in progress", nil)
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.NewTimeout("cancelled while waiting for duplicate suppression", ctx.Err())
		case <-time.After(idemWaitStep):
		}
	}
}

// createUpstream issues the POST and records the produced identifier in the
// marker (when one was acquired).
func (h *TaskHandlers) createUpstream(
	ctx context.Context,
	projectID, name string,
	args map[string]any,
	markerKey string,
) (json.RawMessage, error) {
	payload := map[string]string{"name": name}
	if owner := optString(args, "owner"); owner != "" {
		payload["owner"] = owner
	}
	if due := optString(args, "due_date"); due != "" {
		payload["due_date"] = due
	}

	path := fmt.Sprintf("/portal/%s/projects/%s/tasks/", h.client.PortalID(), projectID)
	resp, err := h.client.PostJSON(ctx, zoho.Projects, path, payload)
	if err != nil {
		if apperrors.IsConflict(err) {
			// Duplicate on the upstream side: resolve to the existing task.
			return h.resolveExisting(ctx, projectID, name, markerKey)
		}
		h.dropMarker(ctx, markerKey)
		return nil, err
	}

	id := resp.JSON().Get("task.id").String()
	if id == "" {
		h.dropMarker(ctx, markerKey)
		return nil, apperrors.NewUpstreamRejected("task creation returned no identifier", nil)
	}
	h.publishMarker(ctx, markerKey, id)
	return taskIDResult(id)
}

// resolveExisting looks up the task the upstream considers a duplicate of
// this create and returns its identifier.
func (h *TaskHandlers) resolveExisting(ctx context.Context, projectID, name, markerKey string) (json.RawMessage, error) {
	tasks, err := h.fetchTasks(ctx, projectID, "")
	if err != nil {
		h.dropMarker(ctx, markerKey)
		return nil, apperrors.NewConflict("task already exists and could not be resolved", err)
	}
	want := normaliseName(name)
	for _, t := range tasks {
		if normaliseName(t.Name) == want {
			h.publishMarker(ctx, markerKey, t.ID)
			return taskIDResult(t.ID)
		}
	}
	h.dropMarker(ctx, markerKey)
	return nil, apperrors.NewConflict("task already exists and could not be resolved", nil)
}

func (h *TaskHandlers) publishMarker(ctx context.Context, key, id string) {
	if key == "" {
		return
	}
	if err := h.store.Set(ctx, key, id, idemTTL); err != nil {
		logger.Warnf("Failed to publish idempotency marker: %v", err)
	}
}

func (h *TaskHandlers) dropMarker(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := h.store.Delete(ctx, key); err != nil {
		logger.Warnf("Failed to drop idempotency marker: %v", err)
	}
}

func taskIDResult(id string) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"task_id": id})
}

// idemKey fingerprints (project, normalised name) for duplicate suppression.
func idemKey(projectID, name string) string {
	sum := sha256.Sum256([]byte(projectID + "|" + normaliseName(name)))
	return idemPrefix + hex.EncodeToString(sum[:])
}

// normaliseName lowercases and collapses whitespace so retried turns with
// cosmetic differences dedup together.
func normaliseName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// UpdateTask applies a partial update to a task.
func (h *TaskHandlers) UpdateTask(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	payload := map[string]string{}
	for _, field := range []string{"status", "due_date", "owner"} {
		if v := optString(args, field); v != "" {
			payload[field] = v
		}
	}
	if len(payload) == 0 {
		return nil, apperrors.NewInvalidParams(
			"at least one of status, due_date or owner is required", "status")
	}

	path := fmt.Sprintf("/portal/%s/tasks/%s/", h.client.PortalID(), args["task_id"].(string))
	if _, err := h.client.PutJSON(ctx, zoho.Projects, path, payload); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]bool{"ok": true})
}

type taskDetailResult struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	Owner       string          `json:"owner,omitempty"`
	DueDate     string          `json:"due_date,omitempty"`
	CreatedAt   string          `json:"created_at,omitempty"`
	UpdatedAt   string          `json:"updated_at,omitempty"`
	URL         string          `json:"url,omitempty"`
	Comments    json.RawMessage `json:"comments"`
	History     json.RawMessage `json:"history"`
}

// GetTaskDetail returns a task with its comments and activity history.
// Comment and history fetches are tolerant: a failure yields an empty list
// rather than failing the whole call.
func (h *TaskHandlers) GetTaskDetail(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	taskID := args["task_id"].(string)
	portal := h.client.PortalID()

	resp, err := h.client.Get(ctx, zoho.Projects, fmt.Sprintf("/portal/%s/tasks/%s/", portal, taskID), nil)
	if err != nil {
		return nil, err
	}
	task := resp.JSON().Get("task")

	detail := taskDetailResult{
		ID:          task.Get("id").String(),
		Name:        task.Get("name").String(),
		Description: task.Get("description").String(),
		Status:      task.Get("status").String(),
		Owner:       task.Get("owner.name").String(),
		DueDate:     task.Get("due_date").String(),
		CreatedAt:   task.Get("created_time").String(),
		UpdatedAt:   task.Get("updated_time").String(),
		URL:         task.Get("link.self.url").String(),
		Comments:    h.fetchList(ctx, fmt.Sprintf("/portal/%s/tasks/%s/comments/", portal, taskID), "comments"),
		History:     h.fetchList(ctx, fmt.Sprintf("/portal/%s/tasks/%s/activities/", portal, taskID), "activities"),
	}
	return json.Marshal(detail)
}

// fetchList retrieves an auxiliary array, degrading to empty on failure.
func (h *TaskHandlers) fetchList(ctx context.Context, path, field string) json.RawMessage {
	resp, err := h.client.Get(ctx, zoho.Projects, path, nil)
	if err != nil {
		logger.Debugf("Auxiliary fetch of %s failed: %v", path, err)
		return json.RawMessage(`[]`)
	}
	if v := resp.JSON().Get(field); v.IsArray() {
		return json.RawMessage(v.Raw)
	}
	return json.RawMessage(`[]`)
}

type projectSummaryResult struct {
	ProjectID      string  `json:"project_id"`
	TotalTasks     int     `json:"total_tasks"`
	CompletionRate float64 `json:"completion_rate"`
	OverdueCount   int     `json:"overdue_count"`
	OpenCount      int     `json:"open_count"`
	ClosedCount    int     `json:"closed_count"`
	Period         string  `json:"period,omitempty"`
}

// GetProjectSummary derives completion metrics from three parallel status
// reads. The constituent reads memoize under the listTasks key space, so a
// recent listTasks call serves the summary without an upstream round trip.
func (h *TaskHandlers) GetProjectSummary(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	projectID := args["project_id"].(string)

	statuses := []string{"open", "closed", "overdue"}
	counts := make([]int, len(statuses))

	g, gctx := errgroup.WithContext(ctx)
	for i, status := range statuses {
		g.Go(func() error {
			body, err := h.cachedListTasks(gctx, projectID, status)
			if err != nil {
				return err
			}
			counts[i] = len(gjson.GetBytes(body, "tasks").Array())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	open, closed, overdue := counts[0], counts[1], counts[2]
	total := open + closed + overdue
	rate := 0.0
	if total > 0 {
		rate = float64(closed) / float64(total)
	}

	return json.Marshal(projectSummaryResult{
		ProjectID:      projectID,
		TotalTasks:     total,
		CompletionRate: rate,
		OverdueCount:   overdue,
		OpenCount:      open,
		ClosedCount:    closed,
		Period:         optString(args, "period"),
	})
}

// cachedListTasks runs one status read through the same cache entries the
// public listTasks tool uses.
func (h *TaskHandlers) cachedListTasks(ctx context.Context, projectID, status string) (json.RawMessage, error) {
	args := map[string]any{"project_id": projectID, "status": status}
	if h.cache == nil {
		return h.ListTasks(ctx, args)
	}
	return cachedResult(ctx, h.cache, "listTasks", args, listTasksTTL, func() (json.RawMessage, error) {
		return h.ListTasks(ctx, args)
	})
}

type projectView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// ListProjects lists the projects of the configured portal.
func (h *TaskHandlers) ListProjects(ctx context.Context, _ map[string]any) (json.RawMessage, error) {
	path := fmt.Sprintf("/portal/%s/projects/", h.client.PortalID())
	resp, err := h.client.Get(ctx, zoho.Projects, path, nil)
	if err != nil {
		return nil, err
	}

	projects := []projectView{}
	for _, p := range resp.JSON().Get("projects").Array() {
		projects = append(projects, projectView{
			ID:     p.Get("id").String(),
			Name:   p.Get("name").String(),
			Status: p.Get("status").String(),
		})
	}
	return json.Marshal(map[string]any{"projects": projects})
}

// optString reads an optional validated string argument.
func optString(args map[string]any, name string) string {
	if v, ok := args[name].(string); ok {
		return v
	}
	return ""
}
