package nodecache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fmcglinn/ring-exporter/pkg/types"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node_cache.json")
	store := New(path)

	nodes := []types.Node{
		{Hostname: "a.example.net", ASN: "1", City: "Amsterdam", CountryCode: "NL", Continent: "Europe", Company: "Example"},
		{Hostname: "b.example.net", ASN: "2", City: "Berlin", CountryCode: "DE", Continent: "Europe", Company: "Unknown"},
	}

	store.Save(nodes)

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != len(nodes) {
		t.Fatalf("Load() returned %d nodes, want %d", len(got), len(nodes))
	}
	for i := range nodes {
		if got[i] != nodes[i] {
			t.Errorf("node %d = %+v, want %+v", i, got[i], nodes[i])
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "missing.json"))
	if _, err := store.Load(); err != ErrNoCache {
		t.Errorf("Load() error = %v, want ErrNoCache", err)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node_cache.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	store := New(path)
	if _, err := store.Load(); err != ErrNoCache {
		t.Errorf("Load() error = %v, want ErrNoCache", err)
	}
}
