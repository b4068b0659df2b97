package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/zoho-mcp/zoho-mcp-server/pkg/errors"
	"github.com/zoho-mcp/zoho-mcp-server/pkg/zoho"
)

const searchFilesTTL = 30 * time.Second

// reviewSheetMediaTypes maps recognised review sheet suffixes to their media
// types. Unknown suffixes fall back to octet-stream.
var reviewSheetMediaTypes = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".md":   "text/markdown",
	".txt":  "text/plain",
	".pdf":  "application/pdf",
	".csv":  "text/csv",
}

// FileHandlers implements the file tools over the WorkDrive API.
type FileHandlers struct {
	client *zoho.Client
}

// NewFileHandlers creates the file tool handlers.
func NewFileHandlers(client *zoho.Client) *FileHandlers {
	return &FileHandlers{client: client}
}

// DownloadFile returns a pre-signed download URL for a file. Bytes are never
// proxied; the URL carries its own short expiry.
func (h *FileHandlers) DownloadFile(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	fileID := args["file_id"].(string)

	resp, err := h.client.Get(ctx, zoho.WorkDrive, fmt.Sprintf("/files/%s/download", fileID), nil)
	if err != nil {
		return nil, err
	}

	fileURL := resp.JSON().Get("download_url").String()
	if fileURL == "" {
		return nil, apperrors.NewUpstreamRejected("upstream returned no download URL", nil)
	}
	return json.Marshal(map[string]string{
		"file_url":   fileURL,
		"expires_at": resp.JSON().Get("expires_at").String(),
	})
}

// UploadReviewSheet uploads a bounded base64 payload as a named file.
func (h *FileHandlers) UploadReviewSheet(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	folderID := args["folder_id"].(string)
	name := args["name"].(string)

	content, err := base64.StdEncoding.DecodeString(args["content_base64"].(string))
	if err != nil {
		return nil, apperrors.NewInvalidParams(
			"parameter content_base64 is not valid base64", "content_base64")
	}
	if len(content) > maxDecodedUpload {
		return nil, apperrors.NewInvalidParams(
			"parameter content_base64 exceeds the 1 GiB decoded size ceiling", "content_base64")
	}

	fields := map[string]string{
		"parent_id":           folderID,
		"filename":            name,
		"override-name-exist": "true",
	}
	resp, err := h.client.PostMultipart(ctx, zoho.WorkDrive, "/files",
		fields, "content", name, mediaTypeFor(name), content)
	if err != nil {
		return nil, err
	}

	fileID := resp.JSON().Get("data.id").String()
	if fileID == "" {
		return nil, apperrors.NewUpstreamRejected("upload returned no file identifier", nil)
	}
	return json.Marshal(map[string]string{"file_id": fileID})
}

func mediaTypeFor(name string) string {
	if mt, ok := reviewSheetMediaTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return mt
	}
	return "application/octet-stream"
}

type fileView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// SearchFiles searches WorkDrive, optionally scoped to one folder.
func (h *FileHandlers) SearchFiles(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	query := url.Values{"query": {args["query"].(string)}}
	if folder := optString(args, "folder_id"); folder != "" {
		query.Set("parent_id", folder)
	}

	resp, err := h.client.Get(ctx, zoho.WorkDrive, "/search", query)
	if err != nil {
		return nil, err
	}

	files := []fileView{}
	for _, f := range resp.JSON().Get("data").Array() {
		files = append(files, fileView{
			ID:   f.Get("id").String(),
			Name: f.Get("attributes.name").String(),
			Path: f.Get("attributes.permalink").String(),
		})
	}
	return json.Marshal(map[string]any{"files": files})
}

type folderEntryView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// ListFolderContents lists the entries of a WorkDrive folder.
func (h *FileHandlers) ListFolderContents(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	folderID := args["folder_id"].(string)

	resp, err := h.client.Get(ctx, zoho.WorkDrive, fmt.Sprintf("/files/%s/files", folderID), nil)
	if err != nil {
		return nil, err
	}

	files := []folderEntryView{}
	for _, f := range resp.JSON().Get("data").Array() {
		files = append(files, folderEntryView{
			ID:   f.Get("id").String(),
			Name: f.Get("attributes.name").String(),
			Type: f.Get("attributes.type").String(),
			Size: f.Get("attributes.size_in_bytes").Int(),
		})
	}
	return json.Marshal(map[string]any{"files": files})
}
