// Package ansible implements the playbook runner by driving the
// ansible-playbook binary as a subprocess.
package ansible

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openmesa/openmesa/pkg/orchestrator"
	"github.com/openmesa/openmesa/pkg/telemetry"
)

// Config holds the runner settings.
type Config struct {
	// BinaryPath is the ansible-playbook executable, defaulting to
	// "ansible-playbook" resolved through PATH.
	BinaryPath string `yaml:"binary_path"`

	// Timeout bounds one playbook execution. Zero means 30 minutes.
	Timeout time.Duration `yaml:"timeout"`

	// SSHUser is passed to ansible-playbook as the remote user.
	SSHUser string `yaml:"ssh_user"`

	// SSHKeyPath is the private key passed to ansible-playbook.
	SSHKeyPath string `yaml:"ssh_key_path"`
}

// Runner executes playbooks against ad-hoc inventories. It implements
// orchestrator.PlaybookRunner.
type Runner struct {
	cfg     Config
	log     *telemetry.Logger
	metrics *telemetry.Metrics
}

var _ orchestrator.PlaybookRunner = (*Runner)(nil)

// NewRunner creates a playbook runner.
func NewRunner(cfg Config, log *telemetry.Logger, metrics *telemetry.Metrics) *Runner {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "ansible-playbook"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if log == nil {
		log = telemetry.Nop()
	}
	if metrics == nil {
		metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	return &Runner{
		cfg:     cfg,
		log:     log.NewComponentLogger("ansible"),
		metrics: metrics,
	}
}

// RunPlaybook executes the playbook against the request's inventory. The
// returned error covers only failures to execute at all (binary missing,
// unmarshalable extra vars); a failing playbook is reported through the
// result status and return code.
func (r *Runner) RunPlaybook(ctx context.Context, req orchestrator.PlaybookRequest) (*orchestrator.PlaybookResult, error) {
	if len(req.Inventory) == 0 {
		return nil, fmt.Errorf("playbook request has an empty inventory")
	}

	execID := uuid.New().String()
	log := r.log.WithField("execution_id", execID)

	args, err := buildArgs(req, r.cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.cfg.BinaryPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Infof("running %s %s", r.cfg.BinaryPath, strings.Join(args, " "))
	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &orchestrator.PlaybookResult{
		ExecutionID: execID,
		Status:      orchestrator.PlaybookStatusSuccessful,
		Stats:       parseRecap(stdout.String()),
		Duration:    duration,
	}

	switch {
	case runErr == nil:
		log.Infof("playbook completed in %s", duration.Round(time.Second))
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Status = orchestrator.PlaybookStatusTimeout
		result.ReturnCode = -1
		result.ErrorOutput = fmt.Sprintf("playbook timed out after %s", r.cfg.Timeout)
		log.Warnf("playbook timed out after %s", r.cfg.Timeout)
	default:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// The process never started.
			return nil, fmt.Errorf("failed to execute %s: %w", r.cfg.BinaryPath, runErr)
		}
		result.Status = orchestrator.PlaybookStatusFailed
		result.ReturnCode = exitErr.ExitCode()
		result.ErrorOutput = failureSummary(stdout.String(), stderr.String())
		log.Warnf("playbook failed with exit code %d", result.ReturnCode)
	}

	r.metrics.RecordPlaybookRun(string(result.Status), duration)
	return result, nil
}

// buildArgs assembles the ansible-playbook command line. The inventory is
// passed inline as a comma-separated host list; the trailing comma tells
// ansible it is a literal list, not a file path.
func buildArgs(req orchestrator.PlaybookRequest, cfg Config) ([]string, error) {
	inventory := strings.Join(req.Inventory, ",") + ","
	args := []string{"-i", inventory}

	if len(req.ExtraVars) > 0 {
		vars, err := json.Marshal(req.ExtraVars)
		if err != nil {
			return nil, fmt.Errorf("failed to encode extra vars: %w", err)
		}
		args = append(args, "--extra-vars", string(vars))
	}
	if req.Limit != "" {
		args = append(args, "--limit", req.Limit)
	}
	if cfg.SSHUser != "" {
		args = append(args, "--user", cfg.SSHUser)
	}
	if cfg.SSHKeyPath != "" {
		args = append(args, "--private-key", cfg.SSHKeyPath)
	}

	return append(args, req.PlaybookPath), nil
}

// recapLine matches one host line of the PLAY RECAP block, e.g.
// "10.0.0.5 : ok=12 changed=3 unreachable=0 failed=0 skipped=1 ...".
var recapLine = regexp.MustCompile(
	`(?m)^(\S+)\s*:\s*ok=(\d+)\s+changed=(\d+)\s+unreachable=(\d+)\s+failed=(\d+)(?:\s+skipped=(\d+))?`)

// parseRecap extracts per-host stats from the PLAY RECAP section of the
// playbook output. Output without a recap yields an empty map.
func parseRecap(output string) map[string]orchestrator.HostStats {
	stats := make(map[string]orchestrator.HostStats)

	idx := strings.Index(output, "PLAY RECAP")
	if idx < 0 {
		return stats
	}

	for _, m := range recapLine.FindAllStringSubmatch(output[idx:], -1) {
		host := m[1]
		if host == "PLAY" {
			continue
		}
		stats[host] = orchestrator.HostStats{
			OK:          atoi(m[2]),
			Changed:     atoi(m[3]),
			Unreachable: atoi(m[4]),
			Failed:      atoi(m[5]),
			Skipped:     atoi(m[6]),
		}
	}
	return stats
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// failureSummary picks the most useful snippet to surface in the error
// payload: stderr when present, otherwise the tail of stdout.
func failureSummary(stdout, stderr string) string {
	if s := strings.TrimSpace(stderr); s != "" {
		return truncate(s, 1024)
	}
	s := strings.TrimSpace(stdout)
	if len(s) > 1024 {
		s = s[len(s)-1024:]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
