package shutdown

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/anvil-ha/anvil/pkg/cluster"
)

// ErrUpdateFailed is returned when the dnf pipeline does not report
// return_code:0; the caller (the anvil-update-system CLI) maps this to
// exit code 3 per §6.
var ErrUpdateFailed = fmt.Errorf("shutdown: os update failed")

// rebootNeededVariable is the Variable row name the "reboot_needed" flag
// is persisted under, toggled by anvil-manage-power and cleared by
// anvil-daemon post-boot.
const rebootNeededVariable = "reboot_needed"

// OSUpdate runs the anvil-update-system workflow described in §4.J: report
// a maintenance_mode_on progress step, stream the dnf update pipeline, parse
// its output line-by-line to drive job progress, and declare success only
// once a `return_code:0` line is seen. No maintenance-mode flag is written
// or cleared; the step exists only as a job status.
func (o *Orchestrator) OSUpdate(ctx context.Context, jobUUID string) error {
	if err := o.progress(ctx, jobUUID, 1, "maintenance_mode_on"); err != nil {
		return err
	}

	output, runErr := cluster.Dnf{Runner: o.dnfRunner()}.Update(ctx)

	rebootNeeded, success := false, false
	for _, line := range splitLines(output) {
		switch {
		case strings.HasPrefix(line, "kernel"):
			rebootNeeded = true
		case strings.Contains(line, "Nothing to do"):
			if err := o.progress(ctx, jobUUID, 95, "nothing_to_do"); err != nil {
				return err
			}
		case strings.HasPrefix(line, "Verifying "):
			if err := o.progress(ctx, jobUUID, 80, "verifying"); err != nil {
				return err
			}
		case strings.HasPrefix(line, "Running transaction"):
			if err := o.progress(ctx, jobUUID, 60, "running_transaction"); err != nil {
				return err
			}
		case strings.HasPrefix(line, "Upgrading "), strings.HasPrefix(line, "Installing "):
			if err := o.progress(ctx, jobUUID, 50, "installing"); err != nil {
				return err
			}
		case strings.Contains(line, "): "):
			// "(x/y): <package>" download/transaction-check progress lines.
			if err := o.progress(ctx, jobUUID, 30, "downloading"); err != nil {
				return err
			}
		case strings.HasPrefix(line, "return_code:0"):
			success = true
		}
	}

	if runErr != nil && !success {
		_ = o.progress(ctx, jobUUID, 0, "failed")
		return fmt.Errorf("%w: %v", ErrUpdateFailed, runErr)
	}
	if !success {
		_ = o.progress(ctx, jobUUID, 0, "failed")
		return ErrUpdateFailed
	}

	if rebootNeeded {
		if err := o.SetRebootNeeded(ctx, true); err != nil {
			return fmt.Errorf("shutdown: setting reboot_needed: %w", err)
		}
	}

	if err := o.Systemctl.DaemonReload(ctx); err != nil {
		return fmt.Errorf("shutdown: systemctl daemon-reload: %w", err)
	}

	status := "done"
	if rebootNeeded {
		status = "reboot needed"
	}
	return o.progress(ctx, jobUUID, ProgressDone, status)
}

// ClearRebootNeeded implements anvil-daemon's post-boot clear of the
// persistent reboot_needed flag toggled by anvil-manage-power.
func ClearRebootNeeded(ctx context.Context, o *Orchestrator) error {
	return o.SetRebootNeeded(ctx, false)
}

func splitLines(s string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// dnfRunner extracts the underlying cluster.Runner from the Pcs field's
// Runner, so OSUpdate doesn't need a separate constructor argument.
func (o *Orchestrator) dnfRunner() cluster.Runner {
	return o.Pcs.Runner
}
