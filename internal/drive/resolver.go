package drive

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"golang.org/x/text/unicode/norm"

	"github.com/drivewatch/drivewatch/internal/pathcache"
	"github.com/drivewatch/drivewatch/internal/pipeline"
)

// maxResolveDepth bounds the parent walk; Drive folder trees are shallow
// and a longer chain means a cycle or an item outside the target.
const maxResolveDepth = 64

// ResolvePath maps an item id to its logical path under the target's
// mapped root by walking the parent chain up to the watched folder.
// Folder lookups along the chain are cached per target.
func (c *Client) ResolvePath(ctx context.Context, itemID string, target pipeline.WatchTarget) (pipeline.Resolution, error) {
	entry, err := c.resolve(ctx, itemID, target, 0)
	if err != nil {
		return pipeline.Resolution{}, err
	}

	return pipeline.Resolution{
		Path:     entry.Path,
		IsFolder: entry.IsFolder,
		ParentID: entry.ParentID,
	}, nil
}

func (c *Client) resolve(ctx context.Context, itemID string, target pipeline.WatchTarget, depth int) (pathcache.Entry, error) {
	if itemID == target.FolderID {
		return pathcache.Entry{Path: target.RootPath, IsFolder: true}, nil
	}

	if depth > maxResolveDepth {
		return pathcache.Entry{}, fmt.Errorf("drive: parent chain of %s exceeds %d levels", itemID, maxResolveDepth)
	}

	key := target.FolderID + ":" + itemID
	if entry, ok := c.cache.Get(key); ok {
		return entry, nil
	}

	meta, err := c.fetchMeta(ctx, itemID)
	if err != nil {
		return pathcache.Entry{}, err
	}

	if meta.parentID == "" {
		return pathcache.Entry{}, fmt.Errorf("drive: item %s is not under watched folder %s", itemID, target.FolderID)
	}

	parent, err := c.resolve(ctx, meta.parentID, target, depth+1)
	if err != nil {
		return pathcache.Entry{}, err
	}

	// Drive file names come back in whatever form the uploader used;
	// normalize so pattern matching and mappings see one spelling.
	entry := pathcache.Entry{
		Path:     path.Join(parent.Path, norm.NFC.String(meta.name)),
		IsFolder: meta.isFolder,
		ParentID: meta.parentID,
	}

	// Only folders are worth caching: files churn, folders repeat on
	// every activity under them.
	if meta.isFolder {
		c.cache.Put(key, entry)

		c.logger.Debug("folder path cached",
			slog.String("item", itemID),
			slog.String("path", entry.Path),
		)
	}

	return entry, nil
}
