// Package probe runs a single ping measurement from a remote node's SSH
// control channel and classifies the outcome.
package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/fmcglinn/ring-exporter/pkg/log"
	"github.com/fmcglinn/ring-exporter/pkg/sshrunner"
	"github.com/fmcglinn/ring-exporter/pkg/types"
)

// ControlPathFunc resolves a hostname to its SSH control socket path.
type ControlPathFunc func(hostname string) string

// Executor runs ping measurements over existing SSH control channels.
type Executor struct {
	username          string
	keyPath           string
	connectTimeout    time.Duration
	subprocessTimeout time.Duration
	pingCount         int
	pingTimeout       int

	controlPath ControlPathFunc
	runner      sshrunner.Runner
}

// New returns an Executor that runs "ping -cN -WT target" over the control
// channel for a node, bounded end-to-end by subprocessTimeout.
func New(username, keyPath string, connectTimeout, subprocessTimeout time.Duration, pingCount, pingTimeout int, controlPath ControlPathFunc, runner sshrunner.Runner) *Executor {
	return &Executor{
		username:          username,
		keyPath:           keyPath,
		connectTimeout:    connectTimeout,
		subprocessTimeout: subprocessTimeout,
		pingCount:         pingCount,
		pingTimeout:       pingTimeout,
		controlPath:       controlPath,
		runner:            runner,
	}
}

// IsValidTarget reports whether host resolves via the system resolver,
// accepting both hostnames and literal IP addresses.
func IsValidTarget(host string) bool {
	_, err := net.LookupHost(host)
	return err == nil
}

// Run executes one ping measurement from hostname's control channel against
// target, returning a classified result. It never returns an error: every
// failure mode is folded into types.ProbeResult.Status.
func (e *Executor) Run(ctx context.Context, hostname, target string) types.ProbeResult {
	result := types.ProbeResult{Hostname: hostname}

	args := []string{
		"-o", "BatchMode=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(e.connectTimeout.Seconds())),
		"-o", "StrictHostKeyChecking=accept-new",
	}
	if e.keyPath != "" {
		args = append(args, "-i", e.keyPath)
	}
	args = append(args, "-l", e.username)
	args = append(args, "-o", "ControlPath="+e.controlPath(hostname))
	args = append(args, hostname, fmt.Sprintf("ping -c%d -W%d %s", e.pingCount, e.pingTimeout, target))

	runCtx, cancel := context.WithTimeout(ctx, e.subprocessTimeout)
	defer cancel()

	logger := log.WithProbe(hostname, target)
	logger.Debug().Msg("running SSH ping")

	res := e.runner.Run(runCtx, "ssh", args...)

	switch {
	case res.TimedOut:
		logger.Warn().Msg("SSH to node timed out")
		result.Status = types.ProbeSSHTimeout
		return result

	case res.LaunchErr != nil:
		logger.Error().Err(res.LaunchErr).Msg("error pinging from node")
		result.Status = types.ProbeException
		return result

	case res.ExitCode != 0:
		logger.Warn().Int("exit_code", res.ExitCode).Msg("ping command failed on node")
		result.Status = types.ProbePingError
		return result
	}

	output := res.Stdout + res.Stderr
	logger.Debug().Str("output", output).Msg("ping output")

	stats, ok := parseRTTLine(output)
	if !ok {
		logger.Warn().Msg("no RTT line found in ping output")
		result.Status = types.ProbeNoRTT
		return result
	}

	result.Status = types.ProbeOK
	result.Min, result.Avg, result.Max, result.Mdev = stats[0], stats[1], stats[2], stats[3]
	return result
}

// parseRTTLine finds the "rtt min/avg/max/mdev = a/b/c/d ms" summary line and
// parses its four floats.
func parseRTTLine(output string) ([4]float64, bool) {
	var zero [4]float64

	var rttLine string
	found := false
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "rtt") {
			rttLine = line
			found = true
			break
		}
	}
	if !found {
		return zero, false
	}

	eqParts := strings.SplitN(rttLine, "=", 2)
	if len(eqParts) != 2 {
		return zero, false
	}
	fields := strings.Fields(eqParts[1])
	if len(fields) == 0 {
		return zero, false
	}

	nums := strings.Split(fields[0], "/")
	if len(nums) != 4 {
		return zero, false
	}

	var out [4]float64
	for i, n := range nums {
		v, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return zero, false
		}
		out[i] = v
	}
	return out, true
}
