package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Fetcher downloads artifact files from a model registry over HTTP so a
// fresh deployment can pull the current bundle before serving.
type Fetcher struct {
	rest *resty.Client
}

// NewFetcher returns a fetcher with the given request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(30 * time.Second)
	}
	return &Fetcher{rest: r}
}

// Fetch downloads model and pipeline artifacts from baseURL into dir.
// Existing files are overwritten only after both downloads succeed.
func (f *Fetcher) Fetch(ctx context.Context, baseURL, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	files := []string{ModelFile, PipelineFile}
	bodies := make(map[string][]byte, len(files))
	for _, name := range files {
		url := baseURL + "/" + name
		resp, err := f.rest.R().SetContext(ctx).Get(url)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", name, err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("fetch %s: registry returned status %d", name, resp.StatusCode())
		}
		bodies[name] = resp.Body()
	}

	for _, name := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, bodies[name], 0o600); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		log.Info().Str("path", path).Int("bytes", len(bodies[name])).Msg("artifact fetched")
	}
	return nil
}
