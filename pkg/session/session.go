// Package session maintains one multiplexed SSH control channel per remote
// node. A control channel, once established, lets many short-lived remote
// commands reuse a single authenticated transport with sub-millisecond
// per-command setup — the load-bearing primitive behind the exporter's
// fan-out probes.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fmcglinn/ring-exporter/pkg/log"
	"github.com/fmcglinn/ring-exporter/pkg/sshrunner"
	"github.com/fmcglinn/ring-exporter/pkg/workerpool"
)

// socketRecoverTimeout bounds how long a stale-socket liveness probe is
// allowed to take before the socket is treated as dead and removed.
const socketRecoverTimeout = 5 * time.Second

// Manager owns the SessionState map (hostname -> present) described in
// spec.md §3/§4.1. All map reads/writes hold mu (readers take RLock, writers
// take Lock); every subprocess call runs outside the lock so that spawns
// proceed in parallel.
type Manager struct {
	controlPathTemplate string
	username            string
	keyPath             string
	connectTimeout      time.Duration
	runner              sshrunner.Runner

	mu     sync.RWMutex
	active map[string]string // hostname -> control socket path
}

// New returns a Manager that spawns ssh via runner, using controlPathTemplate
// (with %r/%h/%p substitution) to derive each host's control socket path.
func New(controlPathTemplate, username, keyPath string, connectTimeout time.Duration, runner sshrunner.Runner) *Manager {
	return &Manager{
		controlPathTemplate: controlPathTemplate,
		username:            username,
		keyPath:             keyPath,
		connectTimeout:      connectTimeout,
		runner:              runner,
		active:              make(map[string]string),
	}
}

func (m *Manager) controlPath(hostname string) string {
	path := m.controlPathTemplate
	path = strings.ReplaceAll(path, "%r", m.username)
	path = strings.ReplaceAll(path, "%h", hostname)
	path = strings.ReplaceAll(path, "%p", "22")
	return path
}

func (m *Manager) commonOpts() []string {
	return []string{
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=No",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(m.connectTimeout.Seconds())),
	}
}

// Start establishes a control-master session to hostname. It is idempotent:
// a hostname already marked present returns true immediately. Otherwise it
// optimistically records the hostname as present *before* spawning ssh, so
// that two concurrent callers never spawn two masters for the same host;
// on spawn failure the optimistic entry is rolled back.
func (m *Manager) Start(ctx context.Context, hostname string) bool {
	path := m.controlPath(hostname)

	m.mu.Lock()
	if _, ok := m.active[hostname]; ok {
		m.mu.Unlock()
		return true
	}
	m.active[hostname] = path
	m.mu.Unlock()

	logger := log.WithHost(hostname)

	args := append([]string{"-MNf"}, m.commonOpts()...)
	args = append(args,
		"-o", "ControlMaster=auto",
		"-o", "ControlPath="+path,
		"-o", "ControlPersist=yes",
	)
	if m.keyPath != "" {
		args = append(args, "-i", m.keyPath)
	}
	args = append(args, fmt.Sprintf("%s@%s", m.username, hostname))

	res := m.runner.Run(ctx, "ssh", args...)
	if res.LaunchErr == nil && res.ExitCode == 0 {
		return true
	}

	m.mu.Lock()
	delete(m.active, hostname)
	m.mu.Unlock()

	reason := strings.TrimSpace(res.Stderr)
	if reason == "" {
		reason = fmt.Sprintf("exit code %d", res.ExitCode)
	}
	if res.LaunchErr != nil {
		reason = res.LaunchErr.Error()
	}
	logger.Warn().Str("reason", reason).Msg("SSH session start failed")
	return false
}

// Stop tears down the control-master session for hostname, if one is
// believed present. Idempotent: a no-op when absent. Failures are logged,
// never returned — spec.md §4.1 stop failure semantics.
func (m *Manager) Stop(ctx context.Context, hostname string) {
	m.mu.Lock()
	path, ok := m.active[hostname]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.active, hostname)
	m.mu.Unlock()

	args := append([]string{"-O", "exit"}, m.commonOpts()...)
	args = append(args, "-o", "ControlPath="+path, fmt.Sprintf("%s@%s", m.username, hostname))

	res := m.runner.Run(ctx, "ssh", args...)
	if res.LaunchErr != nil || res.ExitCode != 0 {
		reason := strings.TrimSpace(res.Stderr)
		if reason == "" {
			reason = fmt.Sprintf("exit code %d", res.ExitCode)
		}
		log.WithHost(hostname).Warn().Str("reason", reason).Msg("SSH session stop failed")
	}
}

// Check queries the control master for hostname via the "check" operation
// on its socket. A zero exit means healthy.
func (m *Manager) Check(ctx context.Context, hostname string) bool {
	return m.checkPath(ctx, hostname, m.controlPath(hostname))
}

func (m *Manager) checkPath(ctx context.Context, hostname, path string) bool {
	args := append([]string{"-O", "check"}, m.commonOpts()...)
	args = append(args, "-o", "ControlPath="+path, fmt.Sprintf("%s@%s", m.username, hostname))

	res := m.runner.Run(ctx, "ssh", args...)
	return res.LaunchErr == nil && !res.TimedOut && res.ExitCode == 0
}

// Sync reconciles the active session set to desired, starting any missing
// host and stopping any host no longer desired.
func (m *Manager) Sync(ctx context.Context, desired map[string]struct{}) {
	m.mu.RLock()
	var toAdd, toRemove []string
	for h := range desired {
		if _, ok := m.active[h]; !ok {
			toAdd = append(toAdd, h)
		}
	}
	for h := range m.active {
		if _, ok := desired[h]; !ok {
			toRemove = append(toRemove, h)
		}
	}
	m.mu.RUnlock()

	for _, h := range toAdd {
		m.Start(ctx, h)
	}
	for _, h := range toRemove {
		m.Stop(ctx, h)
	}
}

// StartParallel starts sessions for hostnames across a bounded worker pool,
// invoking progress(hostname, ok) as each completes, and logging progress
// every 50 completions (and on the final one).
func (m *Manager) StartParallel(ctx context.Context, hostnames []string, maxWorkers int, progress func(hostname string, ok bool)) {
	m.mu.RLock()
	var toStart []string
	for _, h := range hostnames {
		if _, ok := m.active[h]; !ok {
			toStart = append(toStart, h)
		}
	}
	m.mu.RUnlock()

	logger := log.WithComponent("session")
	if len(toStart) == 0 {
		logger.Info().Int("hostnames", len(hostnames)).Msg("all sessions already active")
		return
	}

	logger.Info().Int("count", len(toStart)).Int("max_workers", maxWorkers).Msg("starting SSH sessions")

	var mu sync.Mutex
	completed := 0

	workerpool.Run(ctx, toStart, maxWorkers, func(ctx context.Context, host string) {
		ok := m.Start(ctx, host)
		if progress != nil {
			progress(host, ok)
		}

		mu.Lock()
		completed++
		n := completed
		mu.Unlock()

		if n%50 == 0 || n == len(toStart) {
			logger.Info().Int("completed", n).Int("total", len(toStart)).Msg("session startup progress")
		}
	})
}

// RecoverStaleSockets enumerates on-disk control sockets whose basename
// matches the control path template's literal prefix, probes each for
// liveness, adopts live ones into the active set, and removes dead ones.
func (m *Manager) RecoverStaleSockets(ctx context.Context) {
	logger := log.WithComponent("session")

	sample := m.controlPath("x")
	controlDir := filepath.Dir(sample)

	info, err := os.Stat(controlDir)
	if err != nil || !info.IsDir() {
		logger.Info().Str("dir", controlDir).Msg("control socket directory does not exist")
		return
	}

	basenameTemplate := filepath.Base(m.controlPathTemplate)
	prefix := basenameTemplate
	if idx := strings.IndexByte(basenameTemplate, '%'); idx >= 0 {
		prefix = basenameTemplate[:idx]
	}

	entries, err := os.ReadDir(controlDir)
	if err != nil {
		logger.Warn().Err(err).Str("dir", controlDir).Msg("failed to list control socket directory")
		return
	}

	var recovered, removed int
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}

		hostname, ok := parseHostFromSocketName(name, prefix)
		if !ok {
			logger.Debug().Str("file", name).Msg("could not parse hostname from socket file")
			continue
		}

		socketPath := filepath.Join(controlDir, name)

		checkCtx, cancel := context.WithTimeout(ctx, socketRecoverTimeout)
		alive := m.checkPath(checkCtx, hostname, socketPath)
		cancel()

		if alive {
			m.mu.Lock()
			m.active[hostname] = socketPath
			m.mu.Unlock()
			logger.Info().Str("host", hostname).Msg("recovered live session from socket")
			recovered++
			continue
		}

		if err := os.Remove(socketPath); err != nil {
			logger.Warn().Err(err).Str("path", socketPath).Msg("failed to remove stale socket")
		} else {
			removed++
		}
	}

	logger.Info().Int("recovered", recovered).Int("removed", removed).Msg("socket cleanup complete")
}

// parseHostFromSocketName extracts the hostname from a control socket
// filename of the form "<prefix>user@host:port", matching the
// %r@%h:%p convention used by SSH_CONTROL_PATH_TEMPLATE.
func parseHostFromSocketName(name, prefix string) (string, bool) {
	remainder := strings.TrimPrefix(name, prefix)

	atIdx := strings.IndexByte(remainder, '@')
	if atIdx < 0 {
		return "", false
	}
	colonIdx := strings.LastIndexByte(remainder, ':')
	if colonIdx < 0 || colonIdx <= atIdx {
		return "", false
	}

	hostname := remainder[atIdx+1 : colonIdx]
	if hostname == "" {
		return "", false
	}
	return hostname, true
}

// Cleanup stops every currently active session, used on shutdown.
func (m *Manager) Cleanup(ctx context.Context) {
	m.mu.RLock()
	hosts := make([]string, 0, len(m.active))
	for h := range m.active {
		hosts = append(hosts, h)
	}
	m.mu.RUnlock()

	for _, h := range hosts {
		m.Stop(ctx, h)
	}
}

// Active reports whether hostname currently has a session recorded present.
// Exposed for diagnostics and tests.
func (m *Manager) Active(hostname string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[hostname]
	return ok
}

// ActiveCount returns the number of sessions currently recorded present.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}
