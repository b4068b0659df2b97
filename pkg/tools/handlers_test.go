package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/zoho-mcp/zoho-mcp-server/pkg/cache"
	apperrors "github.com/zoho-mcp/zoho-mcp-server/pkg/errors"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/kv"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/zoho"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/zoho/oauth"
)

// toolEnv wires a registry against a fake upstream, a fake token endpoint
// and a miniredis-backed store.
type toolEnv struct {
	registry *Registry
	mr       *miniredis.Miniredis
	apiCalls atomic.Int64
}

func newToolEnv(t *testing.T, handler http.HandlerFunc) *toolEnv {
	t.Helper()

	env := &toolEnv{}

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"access_token":"tok-1","expires_in":3600}`)
	}))
	t.Cleanup(tokenSrv.Close)

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.apiCalls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(apiSrv.Close)

	env.mr = miniredis.RunT(t)
	store := kv.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: env.mr.Addr()}))
	t.Cleanup(func() { _ = store.Close() })

	tokens := oauth.NewManager(store, oauth.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		RefreshToken: "refresh",
		TokenURL:     tokenSrv.URL,
	})
	client := zoho.NewClient(zoho.Config{
		ProjectsBaseURL:  apiSrv.URL,
		WorkDriveBaseURL: apiSrv.URL,
		PortalID:         "portal-1",
		RequestTimeout:   5 * time.Second,
	}, tokens)

	registry, err := NewDefaultRegistry(client, store, cache.New(store))
	require.NoError(t, err)
	env.registry = registry
	return env
}

func TestRegistry_InvokeUnknownTool(t *testing.T) {
	t.Parallel()

	env := newToolEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{}`)
	})

	_, err := env.registry.Invoke(context.Background(), "dropTables", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidParams(err))
	assert.Equal(t, int64(0), env.apiCalls.Load(), "unknown tool must not reach upstream")
}

func TestRegistry_ValidationBlocksUpstream(t *testing.T) {
	t.Parallel()

	env := newToolEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{}`)
	})

	_, err := env.registry.Invoke(context.Background(), "listTasks", map[string]any{
		"project_id": "p1",
		"status":     "paused",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidParams(err))
	assert.Equal(t, int64(0), env.apiCalls.Load())
}

func TestListTasks_MappingAndCache(t *testing.T) {
	t.Parallel()

	env := newToolEnv(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/portal/portal-1/projects/p1/tasks/")
		assert.Equal(t, "open", r.URL.Query().Get("status"))
		fmt.Fprint(w, `{"tasks":[
			{"id":"T1","name":"Review design","status":"open",
			 "owner":{"name":"ana"},"due_date":"2026-09-01",
			 "link":{"self":{"url":"https://projects.example/T1"}}},
			{"id":"T2","name":"No status task"}
		]}`)
	})

	args := map[string]any{"project_id": "p1", "status": "open"}
	first, err := env.registry.Invoke(context.Background(), "listTasks", args)
	require.NoError(t, err)

	tasks := gjson.GetBytes(first, "tasks").Array()
	require.Len(t, tasks, 2)
	assert.Equal(t, "T1", tasks[0].Get("id").String())
	assert.Equal(t, "ana", tasks[0].Get("owner").String())
	assert.Equal(t, "2026-09-01", tasks[0].Get("due_date").String())
	assert.Equal(t, "https://projects.example/T1", tasks[0].Get("url").String())
	assert.Equal(t, "open", tasks[1].Get("status").String(), "missing status defaults to open")

	second, err := env.registry.Invoke(context.Background(), "listTasks", args)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second), "cached result must be byte-identical")
	assert.Equal(t, int64(1), env.apiCalls.Load(), "second call within TTL is served from cache")
}

func TestListTasks_CacheExpiry(t *testing.T) {
	t.Parallel()

	env := newToolEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"tasks":[]}`)
	})

	args := map[string]any{"project_id": "p1"}
	_, err := env.registry.Invoke(context.Background(), "listTasks", args)
	require.NoError(t, err)

	env.mr.FastForward(listTasksTTL + time.Second)

	_, err = env.registry.Invoke(context.Background(), "listTasks", args)
	require.NoError(t, err)
	assert.Equal(t, int64(2), env.apiCalls.Load(), "expired entry must refetch")
}

func TestCreateTask_IdempotentWithinWindow(t *testing.T) {
	t.Parallel()

	var posts atomic.Int64
	env := newToolEnv(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		posts.Add(1)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"task":{"id":"T9"}}`)
	})

	args := map[string]any{"project_id": "p1", "name": "Review"}
	first, err := env.registry.Invoke(context.Background(), "createTask", args)
	require.NoError(t, err)
	assert.Equal(t, "T9", gjson.GetBytes(first, "task_id").String())

	second, err := env.registry.Invoke(context.Background(), "createTask", args)
	require.NoError(t, err)
	assert.Equal(t, "T9", gjson.GetBytes(second, "task_id").String())
	assert.Equal(t, int64(1), posts.Load(), "second identical create must not reach upstream")
}

func TestCreateTask_NormalisedNamesDedupTogether(t *testing.T) {
	t.Parallel()

	var posts atomic.Int64
	env := newToolEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"task":{"id":"T9"}}`)
	})

	_, err := env.registry.Invoke(context.Background(), "createTask",
		map[string]any{"project_id": "p1", "name": "Review  Sheet"})
	require.NoError(t, err)

	res, err := env.registry.Invoke(context.Background(), "createTask",
		map[string]any{"project_id": "p1", "name": "review sheet"})
	require.NoError(t, err)
	assert.Equal(t, "T9", gjson.GetBytes(res, "task_id").String())
	assert.Equal(t, int64(1), posts.Load())
}

func TestCreateTask_UpstreamConflictResolvesByName(t *testing.T) {
	t.Parallel()

	env := newToolEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusConflict)
			return
		}
		// The list fetch used to resolve the duplicate.
		fmt.Fprint(w, `{"tasks":[{"id":"T4","name":"Review","status":"open"}]}`)
	})

	res, err := env.registry.Invoke(context.Background(), "createTask",
		map[string]any{"project_id": "p1", "name": "Review"})
	require.NoError(t, err)
	assert.Equal(t, "T4", gjson.GetBytes(res, "task_id").String())
}

func TestUpdateTask(t *testing.T) {
	t.Parallel()

	var gotMethod, gotBody atomic.Value
	env := newToolEnv(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod.Store(r.Method)
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(string(body))
		fmt.Fprint(w, `{}`)
	})

	res, err := env.registry.Invoke(context.Background(), "updateTask",
		map[string]any{"task_id": "T1", "status": "closed"})
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(res, "ok").Bool())
	assert.Equal(t, http.MethodPut, gotMethod.Load())
	assert.Equal(t, "closed", gjson.Get(gotBody.Load().(string), "status").String())
}

func TestUpdateTask_RequiresAtLeastOneField(t *testing.T) {
	t.Parallel()

	env := newToolEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{}`)
	})

	_, err := env.registry.Invoke(context.Background(), "updateTask",
		map[string]any{"task_id": "T1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidParams(err))
	assert.Equal(t, int64(0), env.apiCalls.Load())
}

func TestGetTaskDetail_TolerantAuxiliaryFetches(t *testing.T) {
	t.Parallel()

	env := newToolEnv(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/comments/"):
			fmt.Fprint(w, `{"comments":[{"id":"c1","content":"looks good"}]}`)
		case strings.Contains(r.URL.Path, "/activities/"):
			// History endpoint is down; the detail call must still succeed.
			w.WriteHeader(http.StatusNotFound)
		default:
			fmt.Fprint(w, `{"task":{"id":"T1","name":"Review","status":"closed",
				"description":"final pass","owner":{"name":"ana"}}}`)
		}
	})

	res, err := env.registry.Invoke(context.Background(), "getTaskDetail",
		map[string]any{"task_id": "T1"})
	require.NoError(t, err)
	assert.Equal(t, "closed", gjson.GetBytes(res, "status").String())
	assert.Equal(t, "ana", gjson.GetBytes(res, "owner").String())
	assert.Equal(t, "c1", gjson.GetBytes(res, "comments.0.id").String())
	assert.Equal(t, 0, len(gjson.GetBytes(res, "history").Array()))
}

func tasksOfCount(n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"id":"T%d","name":"t%d"}`, i, i)
	}
	return `{"tasks":[` + strings.Join(items, ",") + `]}`
}

func TestGetProjectSummary(t *testing.T) {
	t.Parallel()

	counts := map[string]int{"open": 4, "closed": 6, "overdue": 2}
	env := newToolEnv(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, tasksOfCount(counts[r.URL.Query().Get("status")]))
	})

	res, err := env.registry.Invoke(context.Background(), "getProjectSummary",
		map[string]any{"project_id": "p1"})
	require.NoError(t, err)

	assert.Equal(t, "p1", gjson.GetBytes(res, "project_id").String())
	assert.Equal(t, int64(12), gjson.GetBytes(res, "total_tasks").Int())
	assert.Equal(t, 0.5, gjson.GetBytes(res, "completion_rate").Float())
	assert.Equal(t, int64(2), gjson.GetBytes(res, "overdue_count").Int())
	assert.Equal(t, int64(3), env.apiCalls.Load(), "one read per status")
}

func TestGetProjectSummary_ZeroTasks(t *testing.T) {
	t.Parallel()

	env := newToolEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"tasks":[]}`)
	})

	res, err := env.registry.Invoke(context.Background(), "getProjectSummary",
		map[string]any{"project_id": "empty"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), gjson.GetBytes(res, "total_tasks").Int())
	assert.Equal(t, float64(0), gjson.GetBytes(res, "completion_rate").Float())
}

func TestGetProjectSummary_SharesListTasksCache(t *testing.T) {
	t.Parallel()

	env := newToolEnv(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, tasksOfCount(1))
	})

	// Prime the open-status entry through the public tool.
	_, err := env.registry.Invoke(context.Background(), "listTasks",
		map[string]any{"project_id": "p1", "status": "open"})
	require.NoError(t, err)

	_, err = env.registry.Invoke(context.Background(), "getProjectSummary",
		map[string]any{"project_id": "p1"})
	require.NoError(t, err)

	// One priming call, then only closed and overdue hit upstream.
	assert.Equal(t, int64(3), env.apiCalls.Load())
}

func TestDownloadFile_NeverCached(t *testing.T) {
	t.Parallel()

	env := newToolEnv(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/files/f1/download")
		fmt.Fprint(w, `{"download_url":"https://dl.example/f1?sig=abc","expires_at":"2026-08-24T12:00:00Z"}`)
	})

	args := map[string]any{"file_id": "f1"}
	res, err := env.registry.Invoke(context.Background(), "downloadFile", args)
	require.NoError(t, err)
	assert.Equal(t, "https://dl.example/f1?sig=abc", gjson.GetBytes(res, "file_url").String())
	assert.Equal(t, "2026-08-24T12:00:00Z", gjson.GetBytes(res, "expires_at").String())

	_, err = env.registry.Invoke(context.Background(), "downloadFile", args)
	require.NoError(t, err)
	assert.Equal(t, int64(2), env.apiCalls.Load(), "pre-signed URLs must not be cached")
}

func TestUploadReviewSheet(t *testing.T) {
	t.Parallel()

	env := newToolEnv(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "folder-9", r.FormValue("parent_id"))
		assert.Equal(t, "review.csv", r.FormValue("filename"))

		file, header, err := r.FormFile("content")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "text/csv", header.Header.Get("Content-Type"))

		fmt.Fprint(w, `{"data":{"id":"file-7"}}`)
	})

	content := base64.StdEncoding.EncodeToString([]byte("task,status\n"))
	res, err := env.registry.Invoke(context.Background(), "uploadReviewSheet", map[string]any{
		"project_id":     "p1",
		"folder_id":      "folder-9",
		"name":           "review.csv",
		"content_base64": content,
	})
	require.NoError(t, err)
	assert.Equal(t, "file-7", gjson.GetBytes(res, "file_id").String())
}

func TestUploadReviewSheet_RejectsInvalidBase64(t *testing.T) {
	t.Parallel()

	env := newToolEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{}`)
	})

	_, err := env.registry.Invoke(context.Background(), "uploadReviewSheet", map[string]any{
		"project_id":     "p1",
		"folder_id":      "folder-9",
		"name":           "review.csv",
		"content_base64": "not base64!!!",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidParams(err))
	assert.Contains(t, apperrors.Classify(err).Message, "content_base64")
	assert.Equal(t, int64(0), env.apiCalls.Load())
}

func TestMediaTypeFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", mediaTypeFor("q3.XLSX"))
	assert.Equal(t, "text/markdown", mediaTypeFor("notes.md"))
	assert.Equal(t, "application/pdf", mediaTypeFor("report.pdf"))
	assert.Equal(t, "application/octet-stream", mediaTypeFor("blob.bin"))
	assert.Equal(t, "application/octet-stream", mediaTypeFor("no-extension"))
}

func TestSearchFiles(t *testing.T) {
	t.Parallel()

	env := newToolEnv(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "review", r.URL.Query().Get("query"))
		assert.Equal(t, "folder-9", r.URL.Query().Get("parent_id"))
		fmt.Fprint(w, `{"data":[
			{"id":"f1","attributes":{"name":"review.csv","permalink":"/team/review.csv"}}
		]}`)
	})

	res, err := env.registry.Invoke(context.Background(), "searchFiles",
		map[string]any{"query": "review", "folder_id": "folder-9"})
	require.NoError(t, err)

	files := gjson.GetBytes(res, "files").Array()
	require.Len(t, files, 1)
	assert.Equal(t, "f1", files[0].Get("id").String())
	assert.Equal(t, "review.csv", files[0].Get("name").String())
	assert.Equal(t, "/team/review.csv", files[0].Get("path").String())
}

func TestListFolderContents(t *testing.T) {
	t.Parallel()

	env := newToolEnv(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/files/folder-9/files")
		fmt.Fprint(w, `{"data":[
			{"id":"f1","attributes":{"name":"review.csv","type":"file","size_in_bytes":128}}
		]}`)
	})

	res, err := env.registry.Invoke(context.Background(), "listFolderContents",
		map[string]any{"folder_id": "folder-9"})
	require.NoError(t, err)

	files := gjson.GetBytes(res, "files").Array()
	require.Len(t, files, 1)
	assert.Equal(t, int64(128), files[0].Get("size").Int())
}

func TestDescriptors_ManifestIsClosedAndOrdered(t *testing.T) {
	t.Parallel()

	env := newToolEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{}`)
	})

	descs := env.registry.Descriptors()
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	assert.Equal(t, []string{
		"listTasks", "createTask", "updateTask", "getTaskDetail",
		"getProjectSummary", "listProjects", "downloadFile",
		"uploadReviewSheet", "searchFiles", "listFolderContents",
	}, names)
}
