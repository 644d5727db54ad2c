package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fmcglinn/ring-exporter/pkg/sshrunner"
)

// fakeRunner records invocations and lets tests script per-host outcomes.
type fakeRunner struct {
	mu        sync.Mutex
	calls     int32
	starts    map[string]int
	fail      map[string]bool
	checkLive map[string]bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		starts:    make(map[string]int),
		fail:      make(map[string]bool),
		checkLive: make(map[string]bool),
	}
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) sshrunner.Result {
	atomic.AddInt32(&f.calls, 1)

	var host, op string
	for i, a := range args {
		if a == "-MNf" {
			op = "start"
		}
		if a == "-O" && i+1 < len(args) {
			op = args[i+1]
		}
	}
	host = lastArg(args)

	f.mu.Lock()
	defer f.mu.Unlock()

	switch op {
	case "start":
		f.starts[host]++
		if f.fail[host] {
			return sshrunner.Result{ExitCode: 255, Stderr: "connection refused"}
		}
		return sshrunner.Result{ExitCode: 0}
	case "check":
		if f.checkLive[host] {
			return sshrunner.Result{ExitCode: 0}
		}
		return sshrunner.Result{ExitCode: 1}
	case "exit":
		return sshrunner.Result{ExitCode: 0}
	}
	return sshrunner.Result{ExitCode: 0}
}

// lastArg extracts the "user@host" token's host part from an ssh arg list.
func lastArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	last := args[len(args)-1]
	for i := 0; i < len(last); i++ {
		if last[i] == '@' {
			return last[i+1:]
		}
	}
	return last
}

func TestStartIsIdempotentUnderConcurrency(t *testing.T) {
	runner := newFakeRunner()
	mgr := New("/tmp/ssh-control/nlnog-%r@%h:%p", "rise", "", time.Second, runner)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.Start(context.Background(), "a.example.net")
		}()
	}
	wg.Wait()

	runner.mu.Lock()
	starts := runner.starts["a.example.net"]
	runner.mu.Unlock()

	if starts != 1 {
		t.Errorf("ssh -MNf invoked %d times for one host, want exactly 1", starts)
	}
	if !mgr.Active("a.example.net") {
		t.Error("host not marked active after Start")
	}
}

func TestStartRollsBackOnFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["bad.example.net"] = true
	mgr := New("/tmp/ssh-control/nlnog-%r@%h:%p", "rise", "", time.Second, runner)

	ok := mgr.Start(context.Background(), "bad.example.net")
	if ok {
		t.Error("Start() = true, want false on ssh failure")
	}
	if mgr.Active("bad.example.net") {
		t.Error("failed host left marked active, optimistic entry was not rolled back")
	}
}

func TestStopIsNoopWhenAbsent(t *testing.T) {
	runner := newFakeRunner()
	mgr := New("/tmp/ssh-control/nlnog-%r@%h:%p", "rise", "", time.Second, runner)

	mgr.Stop(context.Background(), "never-started.example.net")

	if calls := atomic.LoadInt32(&runner.calls); calls != 0 {
		t.Errorf("runner invoked %d times, want 0 for a Stop on an absent host", calls)
	}
}

func TestSyncAddsAndRemoves(t *testing.T) {
	runner := newFakeRunner()
	mgr := New("/tmp/ssh-control/nlnog-%r@%h:%p", "rise", "", time.Second, runner)

	mgr.Start(context.Background(), "stale.example.net")

	desired := map[string]struct{}{
		"fresh.example.net": {},
	}
	mgr.Sync(context.Background(), desired)

	if mgr.Active("stale.example.net") {
		t.Error("stale host still active after Sync dropped it from desired")
	}
	if !mgr.Active("fresh.example.net") {
		t.Error("fresh host not active after Sync added it")
	}
	if mgr.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", mgr.ActiveCount())
	}
}

func TestStartParallelInvokesProgressForEveryHost(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["fails.example.net"] = true
	mgr := New("/tmp/ssh-control/nlnog-%r@%h:%p", "rise", "", time.Second, runner)

	hosts := []string{"a.example.net", "b.example.net", "fails.example.net"}

	var mu sync.Mutex
	results := make(map[string]bool)
	mgr.StartParallel(context.Background(), hosts, 2, func(hostname string, ok bool) {
		mu.Lock()
		results[hostname] = ok
		mu.Unlock()
	})

	if len(results) != len(hosts) {
		t.Fatalf("progress called for %d hosts, want %d", len(results), len(hosts))
	}
	if !results["a.example.net"] || !results["b.example.net"] {
		t.Error("expected a.example.net and b.example.net to succeed")
	}
	if results["fails.example.net"] {
		t.Error("expected fails.example.net to fail")
	}
}

func TestRecoverStaleSocketsAdoptsLiveAndRemovesDead(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "nlnog-%r@%h:%p")

	runner := newFakeRunner()
	runner.checkLive["live.example.net"] = true

	mgr := New(template, "rise", "", time.Second, runner)

	liveSocket := filepath.Join(dir, "nlnog-rise@live.example.net:22")
	deadSocket := filepath.Join(dir, "nlnog-rise@dead.example.net:22")
	unrelated := filepath.Join(dir, "some-other-file.txt")

	for _, p := range []string{liveSocket, deadSocket, unrelated} {
		if err := os.WriteFile(p, []byte{}, 0o600); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}

	mgr.RecoverStaleSockets(context.Background())

	if !mgr.Active("live.example.net") {
		t.Error("live.example.net not adopted into active set")
	}
	if mgr.Active("dead.example.net") {
		t.Error("dead.example.net should not be adopted")
	}
	if _, err := os.Stat(deadSocket); !os.IsNotExist(err) {
		t.Error("dead socket file was not removed")
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Error("unrelated file should have been left alone")
	}
}

func TestParseHostFromSocketName(t *testing.T) {
	cases := []struct {
		name, prefix, want string
		ok                 bool
	}{
		{"nlnog-rise@a.example.net:22", "nlnog-", "a.example.net", true},
		{"nlnog-rise@a.example.net:22", "nlnog-", "a.example.net", true},
		{"no-at-sign", "nlnog-", "", false},
		{"nlnog-rise@:22", "nlnog-", "", false},
	}
	for _, c := range cases {
		got, ok := parseHostFromSocketName(c.name, c.prefix)
		if ok != c.ok || got != c.want {
			t.Errorf("parseHostFromSocketName(%q, %q) = (%q, %v), want (%q, %v)", c.name, c.prefix, got, ok, c.want, c.ok)
		}
	}
}
