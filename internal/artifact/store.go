// Package artifact owns the trained classifier and its fitted
// preprocessing pipeline for the lifetime of the process. Both are loaded
// at most once; all access after a successful load is lock-free and
// read-only.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"fraudlens/internal/model"
	"fraudlens/internal/pipeline"
	"fraudlens/internal/txn"
)

// Artifact file names inside the artifact directory.
const (
	ModelFile    = "model.json"
	PipelineFile = "pipeline.json"
)

var (
	// ErrMissing means a required artifact file is absent. Fatal to the
	// service until artifacts are redeployed.
	ErrMissing = errors.New("artifact missing")
	// ErrCorrupt means an artifact file exists but cannot be decoded.
	ErrCorrupt = errors.New("artifact corrupt")
)

// Store loads and owns the (classifier, pipeline) bundle.
type Store struct {
	dir string

	mu     sync.Mutex
	loaded atomic.Bool
	clf    *model.Classifier
	pipe   *pipeline.Pipeline
}

// New creates a store reading from the given artifact directory. Nothing
// is loaded until EnsureLoaded.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// EnsureLoaded loads both artifacts on first call. Concurrent first
// callers are serialized; once a load has succeeded every caller takes
// the lock-free fast path. A failed load leaves no partial state, so a
// retry after fixing the files succeeds.
func (s *Store) EnsureLoaded() error {
	if s.loaded.Load() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded.Load() {
		return nil
	}

	clf, err := s.loadClassifier()
	if err != nil {
		return err
	}
	pipe, err := s.loadPipeline()
	if err != nil {
		return err
	}

	s.clf = clf
	s.pipe = pipe
	s.loaded.Store(true)
	log.Info().
		Str("dir", s.dir).
		Str("representation", clf.Representation().String()).
		Str("model_version", clf.Version()).
		Int("feature_width", pipe.Width()).
		Msg("artifacts loaded")
	return nil
}

func (s *Store) loadClassifier() (*model.Classifier, error) {
	path := filepath.Join(s.dir, ModelFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrMissing, path)
	}
	clf, err := model.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return clf, nil
}

func (s *Store) loadPipeline() (*pipeline.Pipeline, error) {
	path := filepath.Join(s.dir, PipelineFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrMissing, path)
	}
	pipe, err := pipeline.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return pipe, nil
}

// Classifier returns the loaded classifier, loading on first use.
func (s *Store) Classifier() (*model.Classifier, error) {
	if err := s.EnsureLoaded(); err != nil {
		return nil, err
	}
	return s.clf, nil
}

// Pipeline returns the loaded preprocessing transform, loading on first use.
func (s *Store) Pipeline() (*pipeline.Pipeline, error) {
	if err := s.EnsureLoaded(); err != nil {
		return nil, err
	}
	return s.pipe, nil
}

// Transform applies the fitted transform to one transaction.
func (s *Store) Transform(t txn.Transaction) ([]float64, error) {
	pipe, err := s.Pipeline()
	if err != nil {
		return nil, err
	}
	return pipe.Transform(t)
}

// TransformBatch applies the fitted transform to a batch.
func (s *Store) TransformBatch(ts []txn.Transaction) ([][]float64, error) {
	pipe, err := s.Pipeline()
	if err != nil {
		return nil, err
	}
	return pipe.TransformBatch(ts)
}

// PredictProba returns the positive-class probability per row.
func (s *Store) PredictProba(rows [][]float64) ([]float64, error) {
	clf, err := s.Classifier()
	if err != nil {
		return nil, err
	}
	return clf.PredictProba(rows)
}
