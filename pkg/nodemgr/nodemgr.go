// Package nodemgr owns the roster of reachable nodes, the health state of
// each node's SSH session, and the reconciliation loop that keeps both in
// sync with the upstream catalog.
package nodemgr

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fmcglinn/ring-exporter/pkg/catalog"
	"github.com/fmcglinn/ring-exporter/pkg/log"
	"github.com/fmcglinn/ring-exporter/pkg/metrics"
	"github.com/fmcglinn/ring-exporter/pkg/nodecache"
	"github.com/fmcglinn/ring-exporter/pkg/session"
	"github.com/fmcglinn/ring-exporter/pkg/types"
	"github.com/fmcglinn/ring-exporter/pkg/workerpool"
)

// HealthState is the lifecycle state of one node's SSH control session, as
// tracked for the /sessions and /debug surfaces.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthRestarted HealthState = "restarted"
	HealthError     HealthState = "error"
)

// Manager holds the three independently-locked pieces of shared state
// described in spec.md §3: the roster, per-host session health, and the
// last-observed probe status per host.
type Manager struct {
	catalogClient *catalog.Client
	cacheStore    *nodecache.Store
	sessions      *session.Manager

	threads           int
	startupMaxWorkers int
	refreshInterval   time.Duration

	rosterMu sync.RWMutex
	roster   []types.Node

	healthMu sync.RWMutex
	health   map[string]HealthState

	statusMu   sync.RWMutex
	lastStatus map[string]types.LastProbeStatus

	shutdownCh   chan struct{}
	shutdownAck  chan struct{}
	shutdownOnce sync.Once

	startupOnce sync.Once
}

// New returns a Manager wired to the given catalog client, roster cache and
// session manager, with the per-loop concurrency and cadence taken from
// configuration.
func New(catalogClient *catalog.Client, cacheStore *nodecache.Store, sessions *session.Manager, threads, startupMaxWorkers int, refreshInterval time.Duration) *Manager {
	return &Manager{
		catalogClient:     catalogClient,
		cacheStore:        cacheStore,
		sessions:          sessions,
		threads:           threads,
		startupMaxWorkers: startupMaxWorkers,
		refreshInterval:   refreshInterval,
		health:            make(map[string]HealthState),
		lastStatus:        make(map[string]types.LastProbeStatus),
		shutdownCh:        make(chan struct{}),
		shutdownAck:       make(chan struct{}),
	}
}

func (m *Manager) setRoster(nodes []types.Node) {
	m.rosterMu.Lock()
	m.roster = nodes
	m.rosterMu.Unlock()
	metrics.RosterSize.Set(float64(len(nodes)))
}

// Roster returns a snapshot of the current node roster.
func (m *Manager) Roster() []types.Node {
	m.rosterMu.RLock()
	defer m.rosterMu.RUnlock()
	out := make([]types.Node, len(m.roster))
	copy(out, m.roster)
	return out
}

func (m *Manager) setHealth(hostname string, state HealthState) {
	m.healthMu.Lock()
	m.health[hostname] = state
	m.healthMu.Unlock()
}

// SessionHealthSnapshot returns a copy of the per-hostname session health
// map, for the /sessions and /debug surfaces.
func (m *Manager) SessionHealthSnapshot() map[string]HealthState {
	m.healthMu.RLock()
	defer m.healthMu.RUnlock()
	out := make(map[string]HealthState, len(m.health))
	for k, v := range m.health {
		out[k] = v
	}
	return out
}

// publishHealthMetrics recomputes the SessionsByHealth gauge from the
// current health map. Called whenever the map is mutated in bulk.
func (m *Manager) publishHealthMetrics() {
	counts := map[HealthState]int{HealthHealthy: 0, HealthRestarted: 0, HealthError: 0}
	m.healthMu.RLock()
	for _, v := range m.health {
		counts[v]++
	}
	m.healthMu.RUnlock()
	for state, n := range counts {
		metrics.SessionsByHealth.WithLabelValues(string(state)).Set(float64(n))
	}
}

// RecordLastStatus records the outcome of a single probe against hostname.
// Called by the HTTP layer as each probe completes, keyed by the node's short
// host name; it is read back only through LastStatusSnapshot, and /debug does
// not show it.
func (m *Manager) RecordLastStatus(hostname string, status types.LastProbeStatus) {
	m.statusMu.Lock()
	m.lastStatus[hostname] = status
	m.statusMu.Unlock()
}

// LastStatusSnapshot returns a copy of the last-observed probe status per
// hostname.
func (m *Manager) LastStatusSnapshot() map[string]types.LastProbeStatus {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	out := make(map[string]types.LastProbeStatus, len(m.lastStatus))
	for k, v := range m.lastStatus {
		out[k] = v
	}
	return out
}

// fetchAndNormalize fetches the participant directory and active node list
// from the catalog and returns the normalized roster.
func (m *Manager) fetchAndNormalize(ctx context.Context) ([]types.Node, error) {
	participantTimer := metrics.NewTimer()
	participants, err := m.catalogClient.FetchParticipants(ctx)
	participantOutcome := "success"
	if err != nil {
		participantOutcome = "failure"
		log.WithComponent("nodemgr").Warn().Err(err).Msg("failed to fetch participants, continuing without company names")
		participants = map[int]string{}
	}
	participantTimer.ObserveDurationVec(metrics.CatalogFetchDuration, "participants", participantOutcome)

	nodesTimer := metrics.NewTimer()
	raw, err := m.catalogClient.FetchNodes(ctx)
	if err != nil {
		nodesTimer.ObserveDurationVec(metrics.CatalogFetchDuration, "nodes", "failure")
		return nil, err
	}
	nodesTimer.ObserveDurationVec(metrics.CatalogFetchDuration, "nodes", "success")

	return catalog.Normalize(raw, participants), nil
}

// StartupRestore runs the one-time startup sequence: clean stale sockets,
// resolve a roster (API first, falling back to the persisted cache), start
// sessions for every node in parallel, and record initial health.
func (m *Manager) StartupRestore(ctx context.Context) {
	logger := log.WithComponent("nodemgr")

	m.sessions.RecoverStaleSockets(ctx)

	cachedNodes, cacheErr := m.cacheStore.Load()

	apiNodes, err := m.fetchAndNormalize(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("catalog API unavailable during startup")
	} else {
		m.cacheStore.Save(apiNodes)
		logger.Info().Int("nodes", len(apiNodes)).Msg("fetched nodes from API during startup")
	}

	var nodes []types.Node
	switch {
	case err == nil:
		nodes = apiNodes
	case cacheErr == nil:
		nodes = cachedNodes
	default:
		logger.Warn().Msg("no node list available (API down, no cache) — skipping startup restore")
		return
	}

	m.setRoster(nodes)
	logger.Info().Int("nodes", len(nodes)).Msg("populated node cache")

	hostnames := make([]string, len(nodes))
	for i, n := range nodes {
		hostnames[i] = n.Hostname
	}

	m.sessions.StartParallel(ctx, hostnames, m.startupMaxWorkers, func(hostname string, ok bool) {
		if ok {
			m.setHealth(hostname, HealthHealthy)
		}
	})

	m.publishHealthMetrics()

	healthy := 0
	snapshot := m.SessionHealthSnapshot()
	for _, v := range snapshot {
		if v == HealthHealthy {
			healthy++
		}
	}
	logger.Info().Int("healthy", healthy).Int("total", len(hostnames)).Msg("startup restore complete")
}

// CheckAndManage ensures a session is running for hostname and verifies it
// is responsive, restarting it once if the health check fails.
func (m *Manager) CheckAndManage(ctx context.Context, hostname string) bool {
	m.sessions.Start(ctx, hostname)

	if m.sessions.Check(ctx, hostname) {
		log.WithHost(hostname).Debug().Msg("SSH session is healthy")
		m.setHealth(hostname, HealthHealthy)
		return true
	}

	log.WithHost(hostname).Warn().Msg("SSH health check failed, restarting session")
	m.sessions.Stop(ctx, hostname)
	m.sessions.Start(ctx, hostname)
	m.setHealth(hostname, HealthRestarted)
	return false
}

// checkAndManageSafe wraps CheckAndManage so that a panicking health check
// or a context deadline exceeded mid-check marks the hostname HealthError
// rather than leaving its previous state stale.
func (m *Manager) checkAndManageSafe(ctx context.Context, hostname string) {
	defer func() {
		if r := recover(); r != nil {
			log.WithHost(hostname).Error().Interface("panic", r).Msg("panic during session check")
			m.setHealth(hostname, HealthError)
		}
	}()

	m.CheckAndManage(ctx, hostname)

	if ctx.Err() != nil {
		m.setHealth(hostname, HealthError)
	}
}

// RefreshLoop runs StartupRestore once, then repeatedly re-fetches the
// catalog, reconciles sessions, and prunes stale health entries every
// refreshInterval, until ctx is canceled or Shutdown is called.
func (m *Manager) RefreshLoop(ctx context.Context) {
	m.startupOnce.Do(func() { m.StartupRestore(ctx) })

	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()
	defer close(m.shutdownAck)

	for {
		m.doRefresh(ctx)

		select {
		case <-ctx.Done():
			return
		case <-m.shutdownCh:
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) doRefresh(ctx context.Context) {
	logger := log.WithComponent("nodemgr")

	nodes, err := m.fetchAndNormalize(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to update node cache")
		return
	}

	m.cacheStore.Save(nodes)
	m.setRoster(nodes)

	hostnames := make([]string, len(nodes))
	for i, n := range nodes {
		hostnames[i] = n.Hostname
	}
	sort.Strings(hostnames)

	desired := make(map[string]struct{}, len(hostnames))
	for _, h := range hostnames {
		desired[h] = struct{}{}
	}

	workerpool.Run(ctx, hostnames, m.threads, func(ctx context.Context, hostname string) {
		m.checkAndManageSafe(ctx, hostname)
	})

	m.healthMu.Lock()
	var stale []string
	for h := range m.health {
		if _, ok := desired[h]; !ok {
			stale = append(stale, h)
		}
	}
	for _, h := range stale {
		delete(m.health, h)
	}
	healthyCount := 0
	for _, v := range m.health {
		if v == HealthHealthy {
			healthyCount++
		}
	}
	m.healthMu.Unlock()

	for _, h := range stale {
		m.sessions.Stop(ctx, h)
	}

	m.publishHealthMetrics()
	metrics.RefreshCyclesTotal.Inc()

	logger.Info().Int("nodes", len(nodes)).Int("healthy_sessions", healthyCount).Msg("updated node cache")
}

// FetchHealthy returns nodes from the roster whose session is currently
// healthy, narrowed by filters (field -> allowed lowercase values) and
// capped at limit if non-nil. When limit truncates the result, sampling is
// balanced across any filter field with more than one allowed value.
func (m *Manager) FetchHealthy(limit *int, filters map[string][]string) []types.Node {
	roster := m.Roster()
	healthSnapshot := m.SessionHealthSnapshot()

	healthy := make([]types.Node, 0, len(roster))
	for _, n := range roster {
		if healthSnapshot[n.Hostname] == HealthHealthy {
			healthy = append(healthy, n)
		}
	}

	for field, allowed := range filters {
		allowedSet := make(map[string]struct{}, len(allowed))
		for _, v := range allowed {
			allowedSet[strings.ToLower(v)] = struct{}{}
		}
		filtered := healthy[:0:0]
		for _, n := range healthy {
			if _, ok := allowedSet[strings.ToLower(n.FilterField(field))]; ok {
				filtered = append(filtered, n)
			}
		}
		healthy = filtered
	}

	if limit == nil || *limit >= len(healthy) {
		return healthy
	}

	if len(filters) > 0 {
		return balancedSample(healthy, *limit, filters)
	}
	return sampleN(healthy, *limit)
}

// Shutdown signals the refresh loop to stop and tears down every active SSH
// session.
func (m *Manager) Shutdown(ctx context.Context) {
	log.WithComponent("nodemgr").Info().Msg("shutting down, cleaning up SSH sessions")
	m.shutdownOnce.Do(func() { close(m.shutdownCh) })
	m.sessions.Cleanup(ctx)
	log.WithComponent("nodemgr").Info().Msg("SSH session cleanup complete")
}

// WaitStopped blocks until RefreshLoop has returned. Callers must only call
// this after starting RefreshLoop in its own goroutine.
func (m *Manager) WaitStopped() {
	<-m.shutdownAck
}

// sampleN returns a random sample of n distinct elements from nodes.
func sampleN(nodes []types.Node, n int) []types.Node {
	if n >= len(nodes) {
		out := make([]types.Node, len(nodes))
		copy(out, nodes)
		return out
	}
	idx := rand.Perm(len(nodes))[:n]
	out := make([]types.Node, n)
	for i, j := range idx {
		out[i] = nodes[j]
	}
	return out
}

// balancedSample groups nodes by the combination of every filter field that
// has more than one allowed value, distributes limit evenly across groups,
// and fills any shortfall from the remaining unselected nodes. It mirrors
// the quota-then-shortfall-fill shape of the upstream sampling algorithm.
func balancedSample(nodes []types.Node, limit int, filters map[string][]string) []types.Node {
	var balanceFields []string
	for field, vals := range filters {
		if len(vals) > 1 {
			balanceFields = append(balanceFields, field)
		}
	}
	sort.Strings(balanceFields)

	if len(balanceFields) == 0 {
		return sampleN(nodes, limit)
	}

	groups := make(map[string][]types.Node)
	var groupKeys []string
	for _, n := range nodes {
		key := groupKey(n, balanceFields)
		if _, seen := groups[key]; !seen {
			groupKeys = append(groupKeys, key)
		}
		groups[key] = append(groups[key], n)
	}

	rand.Shuffle(len(groupKeys), func(i, j int) { groupKeys[i], groupKeys[j] = groupKeys[j], groupKeys[i] })

	baseQuota := limit / len(groupKeys)
	remainder := limit % len(groupKeys)

	var result []types.Node
	shortfall := 0
	selected := make(map[string]struct{})

	for i, key := range groupKeys {
		quota := baseQuota
		if i < remainder {
			quota++
		}
		group := groups[key]
		take := quota
		if take > len(group) {
			take = len(group)
		}
		picked := sampleN(group, take)
		for _, n := range picked {
			result = append(result, n)
			selected[n.Hostname] = struct{}{}
		}
		shortfall += quota - take
	}

	if shortfall > 0 {
		var remaining []types.Node
		for _, n := range nodes {
			if _, ok := selected[n.Hostname]; !ok {
				remaining = append(remaining, n)
			}
		}
		if len(remaining) > 0 {
			if shortfall > len(remaining) {
				shortfall = len(remaining)
			}
			result = append(result, sampleN(remaining, shortfall)...)
		}
	}

	return result
}

func groupKey(n types.Node, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = strings.ToLower(n.FilterField(f))
	}
	return strings.Join(parts, "\x00")
}
