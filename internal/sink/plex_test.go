package sink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivewatch/drivewatch/internal/config"
	"github.com/drivewatch/drivewatch/internal/pipeline"
)

const plexSectionsJSON = `{
	"MediaContainer": {
		"Directory": [
			{"key": "1", "title": "TV", "Location": [{"path": "/mnt/tv"}]},
			{"key": "2", "title": "Movies", "Location": [{"path": "/mnt/movies"}]}
		]
	}
}`

type plexServer struct {
	*httptest.Server

	mu       sync.Mutex
	sections int
	scans    []string
	tokens   []string
}

func newPlexServer(t *testing.T) *plexServer {
	t.Helper()

	s := &plexServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.tokens = append(s.tokens, r.Header.Get("X-Plex-Token"))

		switch {
		case r.URL.Path == "/library/sections":
			s.sections++
			s.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, plexSectionsJSON)
		default:
			s.scans = append(s.scans, r.URL.Path+"?path="+r.URL.Query().Get("path"))
			s.mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(s.Close)

	return s
}

func newTestPlex(t *testing.T, srv *plexServer) *Plex {
	t.Helper()

	p, err := NewPlex(config.SinkConfig{
		Type:     "plex",
		Name:     "plex",
		URL:      srv.URL,
		Token:    "plex-token",
		Mappings: [][]string{{"/GDRIVE/shows", "/mnt/tv"}},
	}, testLogger())
	require.NoError(t, err)

	return p
}

func TestPlexScansMatchingSection(t *testing.T) {
	t.Parallel()

	srv := newPlexServer(t)
	p := newTestPlex(t, srv)

	_, err := p.Deliver(context.Background(), []pipeline.Activity{
		{Action: pipeline.ActionCreate, ResolvedPath: "/GDRIVE/shows/s1/e1.mkv"},
	})
	require.NoError(t, err)

	srv.mu.Lock()
	defer srv.mu.Unlock()

	require.Len(t, srv.scans, 1)
	assert.Equal(t, "/library/sections/1/refresh?path=/mnt/tv/s1", srv.scans[0])
	assert.Contains(t, srv.tokens, "plex-token")
}

func TestPlexCachesSectionTable(t *testing.T) {
	t.Parallel()

	srv := newPlexServer(t)
	p := newTestPlex(t, srv)

	for range 3 {
		_, err := p.Deliver(context.Background(), []pipeline.Activity{
			{Action: pipeline.ActionCreate, ResolvedPath: "/GDRIVE/shows/s1/e1.mkv"},
		})
		require.NoError(t, err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	assert.Equal(t, 1, srv.sections)
	assert.Len(t, srv.scans, 3)
}

func TestPlexSkipsFoldersOutsideAnySection(t *testing.T) {
	t.Parallel()

	srv := newPlexServer(t)
	p := newTestPlex(t, srv)

	_, err := p.Deliver(context.Background(), []pipeline.Activity{
		{Action: pipeline.ActionCreate, ResolvedPath: "/elsewhere/x.mkv"},
	})
	require.NoError(t, err)

	srv.mu.Lock()
	defer srv.mu.Unlock()

	assert.Empty(t, srv.scans)
}
