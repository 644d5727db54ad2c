package config

import "testing"

func TestFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("SSH_USERNAME", "probe")
	t.Setenv("PING_COUNT", "3")
	t.Setenv("DEBUG", "true")

	cfg := FromEnv(Default())

	if cfg.SSHUsername != "probe" {
		t.Errorf("SSHUsername = %q, want probe", cfg.SSHUsername)
	}
	if cfg.PingCount != 3 {
		t.Errorf("PingCount = %d, want 3", cfg.PingCount)
	}
	if !cfg.Debug {
		t.Errorf("Debug = false, want true")
	}
	// Untouched fields keep their defaults.
	if cfg.NLNOGAPI != Default().NLNOGAPI {
		t.Errorf("NLNOGAPI changed unexpectedly: %q", cfg.NLNOGAPI)
	}
}

func TestSSHControlPath(t *testing.T) {
	cfg := Default()
	cfg.SSHControlPathTemplate = "/tmp/ssh-control/nlnog-%r@%h:%p"
	cfg.SSHUsername = "rise"

	got := cfg.SSHControlPath("a.example.net")
	want := "/tmp/ssh-control/nlnog-rise@a.example.net:22"
	if got != want {
		t.Errorf("SSHControlPath() = %q, want %q", got, want)
	}
}
