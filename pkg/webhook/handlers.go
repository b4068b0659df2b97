package webhook

import (
	"context"

	"github.com/tidwall/gjson"

	"github.com/zoho-mcp/zoho-mcp-server/pkg/logger"
)

// TaskUpdated handles task.updated deliveries. The upstream remains the
// system of record, so the event is recorded for observability; readers pick
// up the change when their cache entries lapse.
func TaskUpdated(_ context.Context, event Event) error {
	payload := gjson.ParseBytes(event.Payload)
	logger.Infow("Task updated upstream",
		"task_id", payload.Get("task_id").String(),
		"project_id", payload.Get("project_id").String(),
		"changed_fields", len(payload.Get("changes").Map()),
	)
	return nil
}
