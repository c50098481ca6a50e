package cluster

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Runner executes one collaborator command and returns its combined
// stdout+stderr. Every cluster/storage/package-manager shell-out named in
// §4.J and §6 is expressed as a narrow interface over this shape so tests
// can substitute a RecordingRunner instead of forking a real process.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec. It is the production Runner.
type ExecRunner struct{}

// Run implements Runner by forking name with args and collecting combined
// output.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	if err != nil {
		return buf.String(), fmt.Errorf("cluster: running %s %v: %w", name, args, err)
	}
	return buf.String(), nil
}

// Call is one recorded (or to-be-played-back) collaborator invocation.
type Call struct {
	Name string
	Args []string
}

// RecordingRunner is a test double per §9's "wrap under an interface so
// tests can substitute a recording fake": it records every call it
// receives and returns canned output/error pairs keyed by invocation
// order, falling back to an empty success when the script runs out.
type RecordingRunner struct {
	Calls   []Call
	Outputs []string // Outputs[i] is returned for the i'th call
	Errs    []error  // Errs[i] is returned for the i'th call, may be nil
}

// Run implements Runner, recording the call and replaying the scripted
// response for its position in the call sequence.
func (r *RecordingRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	i := len(r.Calls)
	r.Calls = append(r.Calls, Call{Name: name, Args: args})

	var out string
	var err error
	if i < len(r.Outputs) {
		out = r.Outputs[i]
	}
	if i < len(r.Errs) {
		err = r.Errs[i]
	}
	return out, err
}

// Systemctl wraps the systemctl(1) collaborator (§6): reboot, poweroff,
// daemon-reload.
type Systemctl struct{ Runner Runner }

func (s Systemctl) Reboot(ctx context.Context) error {
	_, err := s.Runner.Run(ctx, "systemctl", "reboot")
	return err
}

func (s Systemctl) Poweroff(ctx context.Context) error {
	_, err := s.Runner.Run(ctx, "systemctl", "poweroff")
	return err
}

func (s Systemctl) DaemonReload(ctx context.Context) error {
	_, err := s.Runner.Run(ctx, "systemctl", "daemon-reload")
	return err
}

// Pcs wraps the pcs(1) collaborator: cluster status (for parse_cib),
// server shutdown/migrate, and cluster stop.
type Pcs struct{ Runner Runner }

// Status returns the raw `pcs status xml` output for ParseCIB.
func (p Pcs) Status(ctx context.Context) (string, error) {
	return p.Runner.Run(ctx, "pcs", "status", "xml")
}

// ShutdownServer asks pacemaker to stop the named VM resource gracefully.
func (p Pcs) ShutdownServer(ctx context.Context, server string) error {
	_, err := p.Runner.Run(ctx, "pcs", "resource", "disable", server)
	return err
}

// MigrateServer asks pacemaker to move the named VM resource to destNode.
func (p Pcs) MigrateServer(ctx context.Context, server, destNode string) error {
	_, err := p.Runner.Run(ctx, "pcs", "resource", "move", server, destNode)
	return err
}

// ClusterStop force-stops the local cluster stack.
func (p Pcs) ClusterStop(ctx context.Context) error {
	_, err := p.Runner.Run(ctx, "pcs", "cluster", "stop", "--force")
	return err
}

// Virsh wraps the virsh(1) collaborator used as the fallback hard-stop
// after a graceful pcs shutdown request has gone unanswered for 120s.
type Virsh struct{ Runner Runner }

func (v Virsh) Shutdown(ctx context.Context, server string) error {
	_, err := v.Runner.Run(ctx, "virsh", "shutdown", server)
	return err
}

func (v Virsh) DestroyIfRunning(ctx context.Context, server string) error {
	_, err := v.Runner.Run(ctx, "virsh", "destroy", server)
	return err
}

// Drbdadm wraps the drbdadm(1) collaborator.
type Drbdadm struct{ Runner Runner }

// SyncSourceResources reports which DRBD resources are currently the
// SyncSource for a replication catch-up and must not be shut down.
func (d Drbdadm) SyncSourceResources(ctx context.Context) ([]string, error) {
	out, err := d.Runner.Run(ctx, "drbdadm", "status")
	if err != nil {
		return nil, err
	}
	return parseSyncSourceResources(out), nil
}

func (d Drbdadm) DownAll(ctx context.Context) error {
	_, err := d.Runner.Run(ctx, "drbdadm", "down", "all")
	return err
}

// Dnf wraps the dnf(1) collaborator used by the OS-update workflow.
type Dnf struct{ Runner Runner }

// UpdateCmd is the exact shell pipeline §4.J's OS-update variant streams
// and scans line-by-line.
const UpdateCmd = `dnf clean expire-cache && dnf -y update --best --allowerasing && echo return_code:$?`

func (d Dnf) Update(ctx context.Context) (string, error) {
	return d.Runner.Run(ctx, "sh", "-c", UpdateCmd)
}
