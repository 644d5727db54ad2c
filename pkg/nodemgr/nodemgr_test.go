package nodemgr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/fmcglinn/ring-exporter/pkg/catalog"
	"github.com/fmcglinn/ring-exporter/pkg/nodecache"
	"github.com/fmcglinn/ring-exporter/pkg/session"
	"github.com/fmcglinn/ring-exporter/pkg/sshrunner"
	"github.com/fmcglinn/ring-exporter/pkg/types"
)

// alwaysOKRunner answers every ssh invocation as a success, so every session
// Start/Check call succeeds without touching the network.
type alwaysOKRunner struct{}

func (alwaysOKRunner) Run(ctx context.Context, name string, args ...string) sshrunner.Result {
	return sshrunner.Result{ExitCode: 0}
}

func newTestCatalogServer(t *testing.T, nodes []map[string]interface{}) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/nodes", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": map[string]interface{}{"nodes": nodes},
		})
	})
	mux.HandleFunc("/participants", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": map[string]interface{}{
				"participants": []map[string]interface{}{
					{"id": 1, "company": "Example Co"},
				},
			},
		})
	})
	return httptest.NewServer(mux)
}

func newTestManager(t *testing.T, srv *httptest.Server) *Manager {
	t.Helper()
	catalogClient := catalog.New(srv.URL+"/nodes", srv.URL+"/participants", 2*time.Second)
	cacheStore := nodecache.New(filepath.Join(t.TempDir(), "node_cache.json"))
	sessions := session.New("/tmp/ssh-control/nlnog-%r@%h:%p", "rise", "", time.Second, alwaysOKRunner{})
	return New(catalogClient, cacheStore, sessions, 10, 10, time.Hour)
}

func TestStartupRestorePopulatesRosterAndHealth(t *testing.T) {
	srv := newTestCatalogServer(t, []map[string]interface{}{
		{"hostname": "a.example.net", "asn": 65000, "city": "Amsterdam", "countrycode": "nl", "alive_ipv4": true, "alive_ipv6": true, "participant": 1},
		{"hostname": "b.example.net", "asn": 65001, "city": "Berlin", "countrycode": "de", "alive_ipv4": true, "alive_ipv6": true, "participant": 2},
	})
	defer srv.Close()

	mgr := newTestManager(t, srv)
	mgr.StartupRestore(context.Background())

	roster := mgr.Roster()
	if len(roster) != 2 {
		t.Fatalf("Roster() = %d nodes, want 2", len(roster))
	}

	health := mgr.SessionHealthSnapshot()
	if len(health) != 2 {
		t.Fatalf("SessionHealthSnapshot() = %d entries, want 2", len(health))
	}
	for h, state := range health {
		if state != HealthHealthy {
			t.Errorf("host %s health = %s, want healthy", h, state)
		}
	}
}

func TestFetchHealthyAppliesFilterAndLimit(t *testing.T) {
	srv := newTestCatalogServer(t, []map[string]interface{}{
		{"hostname": "a.example.net", "asn": 65000, "city": "Amsterdam", "countrycode": "nl", "alive_ipv4": true, "alive_ipv6": true, "participant": 1},
		{"hostname": "b.example.net", "asn": 65001, "city": "Berlin", "countrycode": "de", "alive_ipv4": true, "alive_ipv6": true, "participant": 2},
	})
	defer srv.Close()

	mgr := newTestManager(t, srv)
	mgr.StartupRestore(context.Background())

	all := mgr.FetchHealthy(nil, nil)
	if len(all) != 2 {
		t.Fatalf("FetchHealthy(nil, nil) = %d nodes, want 2", len(all))
	}

	filtered := mgr.FetchHealthy(nil, map[string][]string{"countrycode": {"nl"}})
	if len(filtered) != 1 || filtered[0].Hostname != "a.example.net" {
		t.Fatalf("filtered FetchHealthy = %+v, want only a.example.net", filtered)
	}

	limit := 1
	limited := mgr.FetchHealthy(&limit, nil)
	if len(limited) != 1 {
		t.Fatalf("FetchHealthy(limit=1) = %d nodes, want 1", len(limited))
	}
}

func TestLastStatusRoundTrip(t *testing.T) {
	srv := newTestCatalogServer(t, nil)
	defer srv.Close()

	mgr := newTestManager(t, srv)
	mgr.RecordLastStatus("a.example.net", types.LastProbeStatus{
		Status: types.ProbeOK, City: "Amsterdam", CountryCode: "NL", ASN: "65000", Continent: "Europe", Company: "Example Co",
	})

	snap := mgr.LastStatusSnapshot()
	got, ok := snap["a.example.net"]
	if !ok {
		t.Fatal("LastStatusSnapshot() missing recorded host")
	}
	if got.Status != types.ProbeOK || got.City != "Amsterdam" {
		t.Errorf("LastStatusSnapshot()[a.example.net] = %+v", got)
	}
}

func TestBalancedSampleRespectsLimitAndGroups(t *testing.T) {
	nodes := []types.Node{
		{Hostname: "a1.example.net", CountryCode: "NL"},
		{Hostname: "a2.example.net", CountryCode: "NL"},
		{Hostname: "a3.example.net", CountryCode: "NL"},
		{Hostname: "b1.example.net", CountryCode: "DE"},
	}
	filters := map[string][]string{"countrycode": {"nl", "de"}}

	out := balancedSample(nodes, 2, filters)
	if len(out) != 2 {
		t.Fatalf("balancedSample() returned %d nodes, want 2", len(out))
	}

	seen := map[string]bool{}
	for _, n := range out {
		if seen[n.Hostname] {
			t.Errorf("balancedSample() returned duplicate %s", n.Hostname)
		}
		seen[n.Hostname] = true
	}

	perCountry := map[string]int{}
	for _, n := range out {
		perCountry[n.CountryCode]++
	}
	if perCountry["NL"] != 1 || perCountry["DE"] != 1 {
		t.Errorf("balancedSample() per-group counts = %v, want one NL and one DE", perCountry)
	}
}

func TestBalancedSampleNoMultiValueFieldFallsBackToPlainSample(t *testing.T) {
	nodes := []types.Node{
		{Hostname: "a1.example.net", CountryCode: "NL"},
		{Hostname: "a2.example.net", CountryCode: "NL"},
	}
	filters := map[string][]string{"countrycode": {"nl"}}

	out := balancedSample(nodes, 1, filters)
	if len(out) != 1 {
		t.Fatalf("balancedSample() returned %d nodes, want 1", len(out))
	}
}
