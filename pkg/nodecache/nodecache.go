// Package nodecache persists the last-known roster to a single JSON file so
// that a restart can come back up with a roster before the catalog answers.
package nodecache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/fmcglinn/ring-exporter/pkg/log"
	"github.com/fmcglinn/ring-exporter/pkg/types"
)

// ErrNoCache is returned by Load when the cache file is absent, unreadable,
// or does not parse — all three are treated identically as "no cache".
var ErrNoCache = errors.New("nodecache: no usable cache")

// Store persists a Roster to a single file via atomic write-then-rename.
type Store struct {
	path string
}

// New returns a Store backed by path.
func New(path string) *Store {
	return &Store{path: path}
}

// Save atomically persists nodes to disk: it writes to a temp file in the
// same directory, then renames over the target path. Write errors are
// logged and swallowed — the previous on-disk cache, if any, is left as-is.
func (s *Store) Save(nodes []types.Node) {
	logger := log.WithComponent("nodecache")

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("failed to create cache directory")
		return
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		logger.Warn().Err(err).Msg("failed to create temp cache file")
		return
	}
	tmpPath := tmp.Name()

	if err := json.NewEncoder(tmp).Encode(nodes); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		logger.Warn().Err(err).Msg("failed to encode node cache")
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		logger.Warn().Err(err).Msg("failed to close temp cache file")
		return
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		logger.Warn().Err(err).Msg("failed to rename temp cache file into place")
		return
	}

	logger.Debug().Int("nodes", len(nodes)).Str("path", s.path).Msg("persisted node cache")
}

// Load reads the persisted roster. Any error (missing file, unreadable,
// malformed JSON) is collapsed to ErrNoCache, matching the original
// "load failures mean no cache" contract — callers never distinguish why.
func (s *Store) Load() ([]types.Node, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, ErrNoCache
	}
	defer f.Close()

	var nodes []types.Node
	if err := json.NewDecoder(f).Decode(&nodes); err != nil {
		return nil, ErrNoCache
	}
	return nodes, nil
}
