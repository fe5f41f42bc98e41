// Package drive implements the Google Drive change feed: activity window
// queries against the Drive Activity API and item path resolution against
// the Drive files API, with a TTL+LRU cache in front of the metadata
// lookups.
package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/driveactivity/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/drivewatch/drivewatch/internal/config"
	"github.com/drivewatch/drivewatch/internal/pathcache"
)

const folderMimeType = "application/vnd.google-apps.folder"

// DefaultScopes is the read-only scope pair the watcher needs.
var DefaultScopes = []string{
	driveapi.DriveReadonlyScope,
	driveactivity.DriveActivityReadonlyScope,
}

var errNoCredentials = errors.New("drive: no credentials configured, need refresh_token or access_token")

// itemMeta is the slice of file metadata the resolver needs.
type itemMeta struct {
	id       string
	name     string
	parentID string
	isFolder bool
}

// Client talks to the Drive and Drive Activity APIs on behalf of the
// pollers. It implements pipeline.ChangeFeed.
type Client struct {
	files    *driveapi.Service
	activity *driveactivity.Service
	cache    *pathcache.Cache
	logger   *slog.Logger

	// fetchMeta is replaceable in tests to avoid the real files API.
	fetchMeta func(ctx context.Context, itemID string) (itemMeta, error)
}

// NewClient builds the authenticated API services from the drive config.
func NewClient(ctx context.Context, cfg config.DriveConfig, logger *slog.Logger) (*Client, error) {
	source, err := tokenSource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	httpClient := oauth2.NewClient(ctx, source)

	files, err := driveapi.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("drive: creating files service: %w", err)
	}

	activity, err := driveactivity.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("drive: creating activity service: %w", err)
	}

	cache := pathcache.NewDisabled()
	if cfg.CacheEnabled {
		ttl := config.Duration(cfg.CacheTTL, config.DefaultCacheTTL)

		maxEntries := cfg.CacheMaxEntries
		if maxEntries <= 0 {
			maxEntries = config.DefaultCacheMaxEntries
		}

		cache = pathcache.New(maxEntries, ttl)
	}

	c := &Client{
		files:    files,
		activity: activity,
		cache:    cache,
		logger:   logger,
	}
	c.fetchMeta = c.fetchMetaAPI

	return c, nil
}

func tokenSource(ctx context.Context, cfg config.DriveConfig) (oauth2.TokenSource, error) {
	scopes := expandScopes(cfg.Scopes)
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	switch {
	case cfg.RefreshToken != "":
		oc := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       scopes,
		}

		return oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}), nil
	case cfg.AccessToken != "":
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken}), nil
	default:
		return nil, errNoCredentials
	}
}

// expandScopes turns short scope names from the config into full scope
// URLs; values already carrying a scheme pass through.
func expandScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))

	for _, s := range scopes {
		if !strings.Contains(s, "://") {
			s = "https://www.googleapis.com/auth/" + s
		}

		out = append(out, s)
	}

	return out
}

// Ping verifies the credentials with a minimal About call.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.files.About.Get().Fields("user(emailAddress)").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("drive: credential check failed: %w", err)
	}

	return nil
}

// apiBackoff returns a fresh retry policy for one API call.
func apiBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
}

// retryable wraps transient API failures so go-retry re-attempts them.
func retryable(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429, 500, 502, 503:
			return retry.RetryableError(err)
		}

		return err
	}

	// Transport-level failures (timeouts, resets) are worth a retry.
	return retry.RetryableError(err)
}

func (c *Client) fetchMetaAPI(ctx context.Context, itemID string) (itemMeta, error) {
	var file *driveapi.File

	err := retry.Do(ctx, apiBackoff(), func(ctx context.Context) error {
		var err error

		file, err = c.files.Files.Get(itemID).
			Fields("id, name, mimeType, parents").
			SupportsAllDrives(true).
			Context(ctx).
			Do()
		if err != nil {
			return retryable(err)
		}

		return nil
	})
	if err != nil {
		return itemMeta{}, fmt.Errorf("drive: getting file %s: %w", itemID, err)
	}

	meta := itemMeta{
		id:       file.Id,
		name:     file.Name,
		isFolder: file.MimeType == folderMimeType,
	}

	if len(file.Parents) > 0 {
		meta.parentID = file.Parents[0]
	}

	return meta, nil
}
