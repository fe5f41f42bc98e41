package sink

import (
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

// sectionCacheTTL is how long the library section table is reused before
// it is fetched again. Sections change rarely.
const sectionCacheTTL = 15 * time.Minute

// Plex triggers partial library scans on a Plex Media Server: for each
// changed folder it finds the library section whose location contains
// the folder and asks the server to scan just that path.
type Plex struct {
	base

	client  *http.Client
	baseURL string
	token   string

	mu        sync.Mutex
	sections  []plexSection
	fetchedAt time.Time

	now func() time.Time
}

type plexSection struct {
	Key       string
	Title     string
	Locations []string
}

func NewPlex(cfg config.SinkConfig, logger *slog.Logger) (*Plex, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("sink %s: parsing plex url: %w", cfg.Name, err)
	}

	return &Plex{
		base:    newBase(cfg, logger),
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimSuffix(u.String(), "/"),
		token:   cfg.Token,
		now:     time.Now,
	}, nil
}

func (p *Plex) Deliver(ctx context.Context, batch []pipeline.Activity) (pipeline.Outcome, error) {
	for _, dir := range p.mappedDirs(batch) {
		section, err := p.sectionFor(ctx, dir)
		if err != nil {
			return pipeline.Outcome{}, err
		}

		if section == nil {
			p.logger.Warn("no plex section covers folder, skipping", slog.String("folder", dir))
			continue
		}

		if err := p.scan(ctx, section, dir); err != nil {
			return pipeline.Outcome{}, err
		}

		p.logger.Debug("plex scan requested",
			slog.String("section", section.Title),
			slog.String("folder", dir),
		)
	}

	return pipeline.Outcome{}, nil
}

// sectionFor finds the library section whose location contains dir.
func (p *Plex) sectionFor(ctx context.Context, dir string) (*plexSection, error) {
	sections, err := p.loadSections(ctx)
	if err != nil {
		return nil, err
	}

	for i := range sections {
		for _, loc := range sections[i].Locations {
			if dir == loc || strings.HasPrefix(dir, loc+"/") {
				return &sections[i], nil
			}
		}
	}

	return nil, nil
}

func (p *Plex) loadSections(ctx context.Context) ([]plexSection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sections != nil && p.now().Sub(p.fetchedAt) < sectionCacheTTL {
		return p.sections, nil
	}

	body, status, err := doRequest(ctx, p.client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/library/sections", nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Plex-Token", p.token)

		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("plex sections: %w", err)
	}

	if !ok2xx(status) {
		return nil, statusError("plex sections", status, body)
	}

	var resp struct {
		MediaContainer struct {
			Directory []struct {
				Key      string `json:"key"`
				Title    string `json:"title"`
				Location []struct {
					Path string `json:"path"`
				} `json:"Location"`
			} `json:"Directory"`
		} `json:"MediaContainer"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("plex sections: decoding: %w", err)
	}

	sections := make([]plexSection, 0, len(resp.MediaContainer.Directory))

	for _, d := range resp.MediaContainer.Directory {
		s := plexSection{Key: d.Key, Title: d.Title}
		for _, loc := range d.Location {
			s.Locations = append(s.Locations, strings.TrimSuffix(loc.Path, "/"))
		}

		sections = append(sections, s)
	}

	p.sections = sections
	p.fetchedAt = p.now()

	return sections, nil
}

func (p *Plex) scan(ctx context.Context, section *plexSection, dir string) error {
	scanURL := fmt.Sprintf("%s/library/sections/%s/refresh?path=%s",
		p.baseURL, section.Key, url.QueryEscape(dir))

	body, status, err := doRequest(ctx, p.client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, scanURL, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("X-Plex-Token", p.token)

		return req, nil
	})
	if err != nil {
		return fmt.Errorf("plex scan: %w", err)
	}

	if !ok2xx(status) {
		return statusError("plex scan", status, body)
	}

	return nil
}
