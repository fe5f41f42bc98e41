package drive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"google.golang.org/api/driveactivity/v2"

	"github.com/drivewatch/drivewatch/internal/pipeline"
)

// FetchActivities queries the Drive Activity API for one page of activity
// under the target's folder subtree, bounded to since < time <= until.
func (c *Client) FetchActivities(ctx context.Context, target pipeline.WatchTarget, since, until time.Time, pageToken string, pageSize int) ([]pipeline.Record, string, error) {
	req := &driveactivity.QueryDriveActivityRequest{
		AncestorName: "items/" + target.FolderID,
		Filter:       fmt.Sprintf("time > %d AND time <= %d", since.UnixMilli(), until.UnixMilli()),
		PageSize:     int64(pageSize),
		PageToken:    pageToken,
	}

	var resp *driveactivity.QueryDriveActivityResponse

	err := retry.Do(ctx, apiBackoff(), func(ctx context.Context) error {
		var err error

		resp, err = c.activity.Activity.Query(req).Context(ctx).Do()
		if err != nil {
			return retryable(err)
		}

		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("drive: querying activity for %s: %w", target.FolderID, err)
	}

	records := make([]pipeline.Record, 0, len(resp.Activities))

	for _, act := range resp.Activities {
		rec, ok := parseRecord(act)
		if !ok {
			continue
		}

		records = append(records, rec)
	}

	return records, resp.NextPageToken, nil
}

// parseRecord flattens one API activity into a feed record. Activities
// without a drive item target (drive-level or comment-only events) are
// skipped.
func parseRecord(act *driveactivity.DriveActivity) (pipeline.Record, bool) {
	item := firstDriveItem(act.Targets)
	if item == nil {
		return pipeline.Record{}, false
	}

	detail := act.PrimaryActionDetail
	if detail == nil && len(act.Actions) > 0 {
		detail = act.Actions[0].Detail
	}

	if detail == nil {
		return pipeline.Record{}, false
	}

	rec := pipeline.Record{
		Timestamp:   parseTimestamp(act),
		TargetTitle: item.Title,
		TargetID:    stripItemPrefix(item.Name),
		IsFolder:    item.DriveFolder != nil || item.MimeType == folderMimeType,
	}

	rec.Action, rec.Detail = classifyDetail(detail)

	switch {
	case detail.Rename != nil:
		rec.OldTitle = detail.Rename.OldTitle
	case detail.Move != nil:
		rec.RemovedParentID = firstParentID(detail.Move.RemovedParents)
	}

	return rec, true
}

// classifyDetail maps the one-of action detail to an action kind plus a
// short qualifier where the API provides one.
func classifyDetail(detail *driveactivity.ActionDetail) (pipeline.Action, string) {
	switch {
	case detail.Create != nil:
		switch {
		case detail.Create.Upload != nil:
			return pipeline.ActionCreate, "UPLOAD"
		case detail.Create.Copy != nil:
			return pipeline.ActionCreate, "COPY"
		default:
			return pipeline.ActionCreate, "NEW"
		}
	case detail.Edit != nil:
		return pipeline.ActionEdit, ""
	case detail.Move != nil:
		return pipeline.ActionMove, ""
	case detail.Rename != nil:
		return pipeline.ActionRename, ""
	case detail.Delete != nil:
		return pipeline.ActionDelete, detail.Delete.Type
	case detail.Restore != nil:
		return pipeline.ActionRestore, detail.Restore.Type
	case detail.PermissionChange != nil:
		return pipeline.ActionPermissionChange, ""
	case detail.Comment != nil:
		return pipeline.ActionComment, ""
	case detail.DlpChange != nil:
		return pipeline.ActionDLPChange, detail.DlpChange.Type
	case detail.Reference != nil:
		return pipeline.ActionReference, ""
	case detail.SettingsChange != nil:
		return pipeline.ActionSettingsChange, ""
	case detail.AppliedLabelChange != nil:
		return pipeline.ActionAppliedLabelChange, ""
	default:
		return pipeline.ActionUnknown, ""
	}
}

func firstDriveItem(targets []*driveactivity.Target) *driveactivity.DriveItem {
	for _, t := range targets {
		if t.DriveItem != nil {
			return t.DriveItem
		}
	}

	return nil
}

func firstParentID(parents []*driveactivity.TargetReference) string {
	for _, p := range parents {
		if p.DriveItem != nil {
			return stripItemPrefix(p.DriveItem.Name)
		}
	}

	return ""
}

func stripItemPrefix(name string) string {
	return strings.TrimPrefix(name, "items/")
}

// parseTimestamp prefers the point timestamp and falls back to the end of
// the activity's time range for consolidated activities.
func parseTimestamp(act *driveactivity.DriveActivity) time.Time {
	raw := act.Timestamp
	if raw == "" && act.TimeRange != nil {
		raw = act.TimeRange.EndTime
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}

	return t
}
