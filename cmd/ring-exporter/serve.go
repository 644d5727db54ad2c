package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fmcglinn/ring-exporter/pkg/catalog"
	"github.com/fmcglinn/ring-exporter/pkg/config"
	"github.com/fmcglinn/ring-exporter/pkg/httpapi"
	"github.com/fmcglinn/ring-exporter/pkg/log"
	"github.com/fmcglinn/ring-exporter/pkg/nodecache"
	"github.com/fmcglinn/ring-exporter/pkg/nodemgr"
	"github.com/fmcglinn/ring-exporter/pkg/probe"
	"github.com/fmcglinn/ring-exporter/pkg/session"
	"github.com/fmcglinn/ring-exporter/pkg/sshrunner"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reachability exporter HTTP server",
	RunE:  runServe,
}

func registerServeFlags(cmd *cobra.Command) {
	cmd.Flags().String("host", "", "Listen host (overrides FLASK_HOST)")
	cmd.Flags().Int("port", 0, "Listen port (overrides FLASK_PORT)")
	cmd.Flags().String("ssh-key", "", "Path to the SSH private key (overrides SSH_KEY_PATH)")
	cmd.Flags().String("nodecache-path", "/tmp/ssh-control/node_cache.json", "Path to the persisted node roster file")
}

func loadConfig(cmd *cobra.Command) config.Config {
	cfg := config.FromEnv(config.Default())

	if v, _ := cmd.Flags().GetString("host"); v != "" {
		cfg.Host = v
	}
	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		cfg.Port = v
	}
	if v, _ := cmd.Flags().GetString("ssh-key"); v != "" {
		cfg.SSHKeyPath = v
	}
	return cfg
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	cachePath, _ := cmd.Flags().GetString("nodecache-path")

	startupBanner(cfg)
	keyOK := validateSSHKey(cfg.ExpandedSSHKeyPath())
	if !keyOK {
		log.Error("SSH key validation failed — SSH sessions will not work")
	} else {
		log.Info("SSH key validation passed")
	}

	runner := sshrunner.NewExec()

	sessions := session.New(cfg.SSHControlPathTemplate, cfg.SSHUsername, cfg.ExpandedSSHKeyPath(),
		time.Duration(cfg.SSHConnectTimeoutSec)*time.Second, runner)

	catalogClient := catalog.New(cfg.NLNOGAPI, cfg.NLNOGParticipantsAPI,
		time.Duration(cfg.NLNOGAPITimeoutSec)*time.Second)

	cacheStore := nodecache.New(cachePath)

	manager := nodemgr.New(catalogClient, cacheStore, sessions,
		cfg.Threads, cfg.StartupMaxWorkers, time.Duration(cfg.CacheRefreshIntervalSec)*time.Second)

	probeExec := probe.New(cfg.SSHUsername, cfg.ExpandedSSHKeyPath(),
		time.Duration(cfg.SSHConnectTimeoutSec)*time.Second,
		time.Duration(cfg.SSHSubprocessTimeout)*time.Second,
		cfg.PingCount, cfg.PingTimeout,
		cfg.SSHControlPath, runner)

	server := httpapi.New(manager, probeExec, cfg.Threads)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go manager.RefreshLoop(ctx)
	log.Info("Node cache refresh loop started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	go func() {
		errCh <- server.Start(ctx, addr, shutdownTimeout)
	}()

	select {
	case sig := <-sigCh:
		log.Logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	case err := <-errCh:
		if err != nil {
			log.Errorf("HTTP server error: %v", err)
		}
	}

	cancel()
	manager.Shutdown(context.Background())

	select {
	case <-errCh:
	case <-time.After(shutdownTimeout):
	}

	log.Info("shutdown complete")
	return nil
}

func startupBanner(cfg config.Config) {
	logger := log.Logger
	line := strings.Repeat("=", 60)
	logger.Info().Msg(line)
	logger.Info().Msg("Starting NLNOG Ring Prometheus Exporter")
	logger.Info().Msg(line)
	logger.Info().Msg("Configuration:")
	logger.Info().Str("nlnog_api", cfg.NLNOGAPI).Msg("  NLNOG API")
	logger.Info().Str("nlnog_participants_api", cfg.NLNOGParticipantsAPI).Msg("  NLNOG Participants")
	logger.Info().Int("timeout_sec", cfg.NLNOGAPITimeoutSec).Msg("  NLNOG API timeout")
	logger.Info().Str("username", cfg.SSHUsername).Msg("  SSH username")
	logger.Info().Int("connect_timeout_sec", cfg.SSHConnectTimeoutSec).Msg("  SSH connect timeout")
	logger.Info().Int("subprocess_timeout_sec", cfg.SSHSubprocessTimeout).Msg("  SSH command timeout")
	logger.Info().Str("control_path", cfg.SSHControlPathTemplate).Msg("  SSH control path")
	logger.Info().Int("count", cfg.PingCount).Int("timeout_sec", cfg.PingTimeout).Msg("  Ping count/timeout")
	logger.Info().Int("workers", cfg.StartupMaxWorkers).Msg("  Startup max workers")
	logger.Info().Int("threads", cfg.Threads).Msg("  Worker threads")
	logger.Info().Int("interval_sec", cfg.CacheRefreshIntervalSec).Msg("  Cache refresh")
	logger.Info().Str("level", cfg.LogLevel).Msg("  Log level")
	logger.Info().Bool("debug", cfg.Debug).Msg("  Debug mode")
	logger.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("  Listen")
	logger.Info().Msg(strings.Repeat("-", 60))
}

// validateSSHKey checks the key file exists, is a regular file, is
// readable, warns on loose permissions, and logs its fingerprint via
// ssh-keygen if available.
func validateSSHKey(path string) bool {
	logger := log.Logger

	info, err := os.Stat(path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("SSH key file does not exist")
		return false
	}
	if !info.Mode().IsRegular() {
		logger.Error().Str("path", path).Msg("SSH key path is not a regular file")
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("SSH key file is not readable")
		return false
	}
	f.Close()

	if info.Mode().Perm()&0o077 != 0 {
		logger.Warn().Str("path", path).Str("mode", info.Mode().Perm().String()).
			Msg("SSH key file has loose permissions — SSH may refuse it")
	} else {
		logger.Info().Str("mode", info.Mode().Perm().String()).Msg("SSH key file permissions ok")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "ssh-keygen", "-l", "-f", path).CombinedOutput()
	switch {
	case err == nil:
		logger.Info().Str("fingerprint", strings.TrimSpace(string(out))).Msg("SSH key fingerprint")
	case errors.Is(err, exec.ErrNotFound):
		logger.Warn().Msg("ssh-keygen not found — cannot display key fingerprint")
	default:
		logger.Warn().Str("output", strings.TrimSpace(string(out))).Msg("ssh-keygen could not read key")
	}

	return true
}
