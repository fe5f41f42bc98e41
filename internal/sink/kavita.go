package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/drivewatch/drivewatch/internal/config"
	"github.com/drivewatch/drivewatch/internal/pipeline"
)

const kavitaPluginName = "drivewatch"

// Kavita asks a Kavita server to scan changed folders. The API key is
// exchanged for a JWT via the plugin authentication endpoint; the JWT is
// cached and refreshed when the server starts answering 401.
type Kavita struct {
	base

	client  *http.Client
	baseURL string
	apiKey  string

	mu  sync.Mutex
	jwt string
}

func NewKavita(cfg config.SinkConfig, logger *slog.Logger) (*Kavita, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("sink %s: parsing kavita url: %w", cfg.Name, err)
	}

	return &Kavita{
		base:    newBase(cfg, logger),
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimSuffix(u.String(), "/"),
		apiKey:  cfg.APIKey,
	}, nil
}

func (k *Kavita) Deliver(ctx context.Context, batch []pipeline.Activity) (pipeline.Outcome, error) {
	for _, dir := range k.mappedDirs(batch) {
		if err := k.scanFolder(ctx, dir); err != nil {
			return pipeline.Outcome{}, err
		}

		k.logger.Debug("kavita scan requested", slog.String("folder", dir))
	}

	return pipeline.Outcome{}, nil
}

func (k *Kavita) scanFolder(ctx context.Context, dir string) error {
	status, err := k.postScan(ctx, dir)
	if err != nil {
		return err
	}

	// Stale JWT: authenticate once more and retry the scan.
	if status == http.StatusUnauthorized {
		k.invalidateToken()

		status, err = k.postScan(ctx, dir)
		if err != nil {
			return err
		}
	}

	if !ok2xx(status) {
		return fmt.Errorf("kavita scan-folder: unexpected status %d", status)
	}

	return nil
}

func (k *Kavita) postScan(ctx context.Context, dir string) (int, error) {
	token, err := k.token(ctx)
	if err != nil {
		return 0, err
	}

	payload, err := json.Marshal(map[string]string{
		"apiKey":     k.apiKey,
		"folderPath": dir,
	})
	if err != nil {
		return 0, fmt.Errorf("kavita scan-folder: encoding: %w", err)
	}

	_, status, err := doRequest(ctx, k.client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			k.baseURL+"/api/Library/scan-folder", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		return req, nil
	})
	if err != nil {
		return 0, fmt.Errorf("kavita scan-folder: %w", err)
	}

	return status, nil
}

// token returns the cached JWT, authenticating when there is none.
func (k *Kavita) token(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.jwt != "" {
		return k.jwt, nil
	}

	authURL := fmt.Sprintf("%s/api/Plugin/authenticate?apiKey=%s&pluginName=%s",
		k.baseURL, url.QueryEscape(k.apiKey), kavitaPluginName)

	body, status, err := doRequest(ctx, k.client, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodPost, authURL, nil)
	})
	if err != nil {
		return "", fmt.Errorf("kavita authenticate: %w", err)
	}

	if !ok2xx(status) {
		return "", statusError("kavita authenticate", status, body)
	}

	var resp struct {
		Token string `json:"token"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("kavita authenticate: decoding: %w", err)
	}

	if resp.Token == "" {
		return "", fmt.Errorf("kavita authenticate: empty token in response")
	}

	k.jwt = resp.Token

	return k.jwt, nil
}

func (k *Kavita) invalidateToken() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.jwt = ""
}
