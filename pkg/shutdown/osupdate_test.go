package shutdown

import (
	"context"
	"strings"
	"testing"

	"github.com/anvil-ha/anvil/pkg/cluster"
)

// TestOSUpdateWithKernelMarksRebootNeeded reproduces §8 scenario 6: an
// update whose output contains a line starting with "kernel" must finish at 100% with
// the "reboot needed" status, without touching the database (RebootNeeded
// persistence is exercised separately since it requires a live Executor).
func TestOSUpdateWithKernelMarksRebootNeeded(t *testing.T) {
	output := strings.Join([]string{
		"Running transaction check",
		"Running transaction",
		"Upgrading   : glibc-2.34                                      1/20",
		"(1/20): glibc-2.34.x86_64.rpm                                 100%",
		"Installing  : kernel-5.x.y  x86_64  99 M",
		"kernel-5.x.y  x86_64  99 M",
		"Verifying   : kernel-5.x.y.x86_64",
		"return_code:0",
	}, "\n")

	runner := &cluster.RecordingRunner{Outputs: []string{output}}
	o := New(nil, runner)

	var finalPct int
	var finalStatus string
	o.ReportProgress = func(_ context.Context, _ string, pct int, status string) error {
		finalPct, finalStatus = pct, status
		return nil
	}
	var rebootNeededSet bool
	o.SetRebootNeeded = func(_ context.Context, needed bool) error {
		rebootNeededSet = needed
		return nil
	}

	if err := o.OSUpdate(context.Background(), "job-1"); err != nil {
		t.Fatalf("OSUpdate returned unexpected error: %v", err)
	}
	if !rebootNeededSet {
		t.Error("expected reboot_needed to be set after a kernel upgrade line")
	}
	if finalStatus != "reboot needed" {
		t.Errorf("final status = %q, want %q", finalStatus, "reboot needed")
	}
	if finalPct != ProgressDone {
		t.Errorf("final progress = %d, want %d", finalPct, ProgressDone)
	}
}

// TestOSUpdateFailsWithoutReturnCode verifies the workflow requires a
// literal "return_code:0" line to declare success.
func TestOSUpdateFailsWithoutReturnCode(t *testing.T) {
	runner := &cluster.RecordingRunner{Outputs: []string{"Nothing to do.\n"}}
	o := New(nil, runner)
	o.ReportProgress = func(context.Context, string, int, string) error { return nil }

	err := o.OSUpdate(context.Background(), "job-1")
	if err == nil {
		t.Fatal("expected an error when no return_code:0 line is present")
	}
}
