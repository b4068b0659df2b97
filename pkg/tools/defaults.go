package tools

import (
	"github.com/zoho-mcp/zoho-mcp-server/pkg/cache"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/kv"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/zoho"
)

var taskStatuses = []string{"open", "closed", "overdue"}

// NewDefaultRegistry builds the full tool surface bound to the given
// upstream client and KV store.
func NewDefaultRegistry(client *zoho.Client, store kv.Store, c *cache.Cache) (*Registry, error) {
	tasks := NewTaskHandlers(client, store, c)
	files := NewFileHandlers(client)

	r := NewRegistry(c)
	for _, reg := range []struct {
		desc    Descriptor
		handler Handler
	}{
		{
			Descriptor{
				Name:        "listTasks",
				Description: "List the tasks of a project, optionally filtered by status.",
				Params: []Param{
					{Name: "project_id", Type: TypeString, Required: true, Description: "Project identifier"},
					{Name: "status", Type: TypeEnum, Enum: taskStatuses, Description: "Status filter"},
				},
				CacheTTL: listTasksTTL,
			},
			tasks.ListTasks,
		},
		{
			Descriptor{
				Name:        "createTask",
				Description: "Create a task in a project. Duplicate creations within one turn are suppressed.",
				Params: []Param{
					{Name: "project_id", Type: TypeString, Required: true, Description: "Project identifier"},
					{Name: "name", Type: TypeString, Required: true, Description: "Task name"},
					{Name: "owner", Type: TypeString, Description: "Owner email"},
					{Name: "due_date", Type: TypeDate, Description: "Due date, YYYY-MM-DD"},
				},
				Mutating: true,
			},
			tasks.CreateTask,
		},
		{
			Descriptor{
				Name:        "updateTask",
				Description: "Update a task. At least one of status, due_date or owner must be given.",
				Params: []Param{
					{Name: "task_id", Type: TypeString, Required: true, Description: "Task identifier"},
					{Name: "status", Type: TypeEnum, Enum: taskStatuses, Description: "New status"},
					{Name: "due_date", Type: TypeDate, Description: "New due date, YYYY-MM-DD"},
					{Name: "owner", Type: TypeString, Description: "New owner email"},
				},
				Mutating: true,
			},
			tasks.UpdateTask,
		},
		{
			Descriptor{
				Name:        "getTaskDetail",
				Description: "Get a task with its comments and activity history.",
				Params: []Param{
					{Name: "task_id", Type: TypeString, Required: true, Description: "Task identifier"},
				},
				CacheTTL: taskDetailTTL,
			},
			tasks.GetTaskDetail,
		},
		{
			Descriptor{
				Name:        "getProjectSummary",
				Description: "Summarise a project: totals, completion rate and overdue count.",
				Params: []Param{
					{Name: "project_id", Type: TypeString, Required: true, Description: "Project identifier"},
					{Name: "period", Type: TypeEnum, Enum: []string{"week", "month"}, Description: "Reporting period"},
				},
				// Not cached itself: the constituent status reads are, so the
				// summary is always derived from entries at most one
				// listTasks TTL old.
				CacheTTL: 0,
			},
			tasks.GetProjectSummary,
		},
		{
			Descriptor{
				Name:        "listProjects",
				Description: "List the projects of the configured portal.",
				Params:      []Param{},
				CacheTTL:    listTasksTTL,
			},
			tasks.ListProjects,
		},
		{
			Descriptor{
				Name:        "downloadFile",
				Description: "Get a pre-signed, short-lived download URL for a file.",
				Params: []Param{
					{Name: "file_id", Type: TypeString, Required: true, Description: "File identifier"},
				},
				// Pre-signed URLs expire quickly; never serve a stale one.
				CacheTTL: 0,
			},
			files.DownloadFile,
		},
		{
			Descriptor{
				Name:        "uploadReviewSheet",
				Description: "Upload a review sheet (base64 content, at most 1 GiB decoded) to a folder.",
				Params: []Param{
					{Name: "project_id", Type: TypeString, Required: true, Description: "Project identifier"},
					{Name: "folder_id", Type: TypeString, Required: true, Description: "Destination folder identifier"},
					{Name: "name", Type: TypeString, Required: true, Description: "File name"},
					{Name: "content_base64", Type: TypeBase64, Required: true, Description: "Base64 file content"},
				},
				Mutating: true,
			},
			files.UploadReviewSheet,
		},
		{
			Descriptor{
				Name:        "searchFiles",
				Description: "Search files, optionally scoped to one folder.",
				Params: []Param{
					{Name: "query", Type: TypeString, Required: true, Description: "Search query"},
					{Name: "folder_id", Type: TypeString, Description: "Folder to search within"},
				},
				CacheTTL: searchFilesTTL,
			},
			files.SearchFiles,
		},
		{
			Descriptor{
				Name:        "listFolderContents",
				Description: "List the entries of a folder.",
				Params: []Param{
					{Name: "folder_id", Type: TypeString, Required: true, Description: "Folder identifier"},
				},
				CacheTTL: searchFilesTTL,
			},
			files.ListFolderContents,
		},
	} {
		if err := r.Register(reg.desc, reg.handler); err != nil {
			return nil, err
		}
	}
	return r, nil
}
