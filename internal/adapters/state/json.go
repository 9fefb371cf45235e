package state

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/fsutil"
)

// JSONStore keeps one JSON file per run under a directory.
type JSONStore struct {
	dir string
	mu  sync.RWMutex
}

// runEnvelope wraps a run with integrity metadata.
type runEnvelope struct {
	Version   int             `json:"version"`
	Checksum  string          `json:"checksum"`
	UpdatedAt time.Time       `json:"updated_at"`
	Run       *core.RunResult `json:"run"`
}

// NewJSONStore creates a store rooted at dir.
func NewJSONStore(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	return &JSONStore{dir: dir}, nil
}

// Deliver implements core.ReportSink by persisting result.
func (s *JSONStore) Deliver(_ context.Context, result *core.RunResult) error {
	sum, _, err := checksum(result)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(runEnvelope{
		Version:   1,
		Checksum:  sum,
		UpdatedAt: time.Now(),
		Run:       result,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fsutil.WriteFileAtomic(s.path(result.RunID), data, 0o644); err != nil {
		return fmt.Errorf("writing run file: %w", err)
	}
	return nil
}

// Get loads a run and verifies its checksum.
func (s *JSONStore) Get(_ context.Context, id core.RunID) (*core.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(s.path(id), id)
}

// List returns every stored run, newest first. Unreadable files are skipped.
func (s *JSONStore) List(_ context.Context) ([]core.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading run directory: %w", err)
	}
	var out []core.RunSummary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := core.RunID(strings.TrimSuffix(name, ".json"))
		result, err := s.load(filepath.Join(s.dir, name), id)
		if err != nil {
			continue
		}
		out = append(out, result.Summarize())
	}
	slices.SortFunc(out, func(a, b core.RunSummary) int {
		return cmp.Compare(b.StartedAt.UnixNano(), a.StartedAt.UnixNano())
	})
	return out, nil
}

// Close implements core.RunStore.
func (s *JSONStore) Close() error { return nil }

func (s *JSONStore) load(path string, id core.RunID) (*core.RunResult, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading run file: %w", err)
	}
	var env runEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing run file %s: %w", filepath.Base(path), err)
	}
	if env.Run == nil {
		return nil, core.ErrState(core.CodeChecksumMismatch, fmt.Sprintf("run file %s is empty", filepath.Base(path)))
	}
	if err := verify(id, env.Checksum, env.Run); err != nil {
		return nil, err
	}
	return env.Run, nil
}

func (s *JSONStore) path(id core.RunID) string {
	return filepath.Join(s.dir, filepath.Base(string(id))+".json")
}
