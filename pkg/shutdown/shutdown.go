// Package shutdown implements the Shutdown Orchestrator described in
// §4.J: given a cluster-information blob, migrate or stop each
// locally-hosted server, wait for storage replication to quiesce, stop
// the cluster stack, and optionally power off. It is driven as a job
// (§4.I) whose job_data carries the workflow's inputs and whose progress
// column the orchestrator advances as it moves through its states.
package shutdown

import (
	"context"
	"fmt"
	"time"

	"github.com/anvil-ha/anvil/pkg/cluster"
	"github.com/anvil-ha/anvil/pkg/job"
	"github.com/anvil-ha/anvil/pkg/sqlexec"
	"github.com/anvil-ha/anvil/pkg/upsert"
)

// StopReason is the job_data field recording why the node is withdrawing.
type StopReason string

const (
	ReasonUser    StopReason = "user"
	ReasonPower   StopReason = "power"
	ReasonThermal StopReason = "thermal"
)

// Progress milestones per §4.J.
const (
	ProgressEnumerate       = 5
	ProgressMigrateStart    = 10
	ProgressPerServerAction = 20
	ProgressPostServer      = 30
	ProgressWaitDRBD        = 40
	ProgressDRBDDown        = 60
	ProgressClusterStop1    = 70
	ProgressClusterStop2    = 80
	ProgressDone            = 100
)

// virshEscalateAfter is how long a graceful pcs shutdown request is given
// before the orchestrator escalates to a hard virsh shutdown, per §4.J.
const virshEscalateAfter = 120 * time.Second

// Input is the parsed form of the job's job_data for a withdraw workflow.
type Input struct {
	PowerOff    bool
	StopReason  StopReason
	StopServers bool // true: stop local servers; false: migrate them to a peer
	LocalNode   string
	PeerNode    string // migration target when StopServers is false

	// Identity of the local host row, needed only when PowerOff is set so
	// finish() can mark host_status=stopping before invoking systemctl.
	HostUUID string
	HostName string
	HostType string
	HostKey  string
}

// Clock lets tests replace time.Now/time.Sleep with an instrumented fake,
// per §9's "busy-wait loops... injectable clock" re-architecture note.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// realClock is the production Clock.
type realClock struct{}

func (realClock) Now() time.Time      { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Orchestrator runs one withdraw workflow to completion.
type Orchestrator struct {
	Executor *sqlexec.Executor
	Pcs      cluster.Pcs
	Virsh    cluster.Virsh
	Drbdadm  cluster.Drbdadm
	Systemctl cluster.Systemctl
	Clock    Clock

	// ClusterPollInterval and DRBDPollInterval default to the spec's 5s/10s
	// production values when zero.
	ClusterPollInterval time.Duration
	DRBDPollInterval    time.Duration

	// ReportProgress defaults to writing job_progress through Executor; it
	// is a field (not a hardwired call) so tests can observe progress
	// milestones without a live peer.
	ReportProgress func(ctx context.Context, jobUUID string, pct int, status string) error

	// SetRebootNeeded defaults to writing the reboot_needed Variable
	// through Executor; overridable for the same reason as ReportProgress.
	SetRebootNeeded func(ctx context.Context, needed bool) error
}

// New constructs an Orchestrator with production defaults.
func New(ex *sqlexec.Executor, runner cluster.Runner) *Orchestrator {
	o := &Orchestrator{
		Executor:            ex,
		Pcs:                 cluster.Pcs{Runner: runner},
		Virsh:               cluster.Virsh{Runner: runner},
		Drbdadm:             cluster.Drbdadm{Runner: runner},
		Systemctl:           cluster.Systemctl{Runner: runner},
		Clock:               realClock{},
		ClusterPollInterval: 5 * time.Second,
		DRBDPollInterval:    10 * time.Second,
	}
	o.ReportProgress = func(ctx context.Context, jobUUID string, pct int, status string) error {
		return job.UpdateProgress(ctx, o.Executor, jobUUID, pct, status, "")
	}
	o.SetRebootNeeded = func(ctx context.Context, needed bool) error {
		value := "0"
		if needed {
			value = "1"
		}
		_, err := upsert.UpsertVariable(ctx, o.Executor, upsert.Variable{Name: rebootNeededVariable, Value: value})
		return err
	}
	return o
}

// progress reports a milestone back through the job row so observers
// polling job_progress see the state machine's advance.
func (o *Orchestrator) progress(ctx context.Context, jobUUID string, pct int, status string) error {
	return o.ReportProgress(ctx, jobUUID, pct, status)
}

// Run drives the full withdraw state machine described in §4.J's diagram:
// enumerate -> migrate-or-stop -> wait for DRBD to quiesce -> drbdadm down
// -> cluster stop -> (optional) poweroff.
func (o *Orchestrator) Run(ctx context.Context, jobUUID string, in Input) error {
	if o.ClusterPollInterval == 0 {
		o.ClusterPollInterval = 5 * time.Second
	}
	if o.DRBDPollInterval == 0 {
		o.DRBDPollInterval = 10 * time.Second
	}

	servers, clusterUp, err := o.enumerate(ctx)
	if err != nil {
		return fmt.Errorf("shutdown: enumerating servers: %w", err)
	}
	if err := o.progress(ctx, jobUUID, ProgressEnumerate, "enumerated"); err != nil {
		return err
	}

	if !clusterUp {
		return o.finish(ctx, jobUUID, in)
	}

	if err := o.progress(ctx, jobUUID, ProgressMigrateStart, "migrating_or_stopping"); err != nil {
		return err
	}
	if err := o.migrateOrStopAll(ctx, jobUUID, in, servers); err != nil {
		return fmt.Errorf("shutdown: migrating/stopping servers: %w", err)
	}
	if err := o.progress(ctx, jobUUID, ProgressPostServer, "servers_settled"); err != nil {
		return err
	}

	if err := o.progress(ctx, jobUUID, ProgressWaitDRBD, "waiting_drbd"); err != nil {
		return err
	}
	if err := o.waitForDRBDQuiesce(ctx); err != nil {
		return fmt.Errorf("shutdown: waiting for drbd to quiesce: %w", err)
	}

	if err := o.Drbdadm.DownAll(ctx); err != nil {
		return fmt.Errorf("shutdown: drbdadm down all: %w", err)
	}
	if err := o.progress(ctx, jobUUID, ProgressDRBDDown, "drbd_down"); err != nil {
		return err
	}

	if err := o.progress(ctx, jobUUID, ProgressClusterStop1, "stopping_cluster"); err != nil {
		return err
	}
	if err := o.Pcs.ClusterStop(ctx); err != nil {
		return fmt.Errorf("shutdown: pcs cluster stop: %w", err)
	}
	if err := o.progress(ctx, jobUUID, ProgressClusterStop2, "cluster_stopped"); err != nil {
		return err
	}

	return o.finish(ctx, jobUUID, in)
}

// enumerate reads the cluster information base via parse_cib. clusterUp is
// false when the cluster stack is already down, in which case the state
// machine skips directly to CLUSTER_STOPPED per §4.J's diagram.
func (o *Orchestrator) enumerate(ctx context.Context) ([]cluster.Server, bool, error) {
	raw, err := o.Pcs.Status(ctx)
	if err != nil {
		return nil, false, nil // cluster stack not running; treat as already down
	}
	servers, err := cluster.ParseCIB([]byte(raw))
	if err != nil {
		return nil, false, fmt.Errorf("parsing cluster information base: %w", err)
	}
	return servers, true, nil
}

// migrateOrStopAll loops every 5s until every locally-hosted server has
// left the Started role on this node, per §4.J's MIGRATING_OR_STOPPING
// state.
func (o *Orchestrator) migrateOrStopAll(ctx context.Context, jobUUID string, in Input, servers []cluster.Server) error {
	escalateAt := make(map[string]time.Time)

	for {
		pending := 0
		for _, s := range servers {
			if s.Node != in.LocalNode {
				continue
			}
			switch s.Role {
			case cluster.RoleStopped:
				continue
			case cluster.RoleMigrating:
				pending++
				continue
			case cluster.RoleStarted:
				pending++
				if err := o.actOnServer(ctx, jobUUID, in, s, escalateAt); err != nil {
					return err
				}
			}
		}

		if pending == 0 {
			return nil
		}

		if err := o.progress(ctx, jobUUID, ProgressPerServerAction, "waiting_for_servers"); err != nil {
			return err
		}

		o.Clock.Sleep(o.ClusterPollInterval)

		raw, err := o.Pcs.Status(ctx)
		if err != nil {
			return fmt.Errorf("re-reading cluster status: %w", err)
		}
		servers, err = cluster.ParseCIB([]byte(raw))
		if err != nil {
			return fmt.Errorf("re-parsing cluster information base: %w", err)
		}
	}
}

// actOnServer issues the appropriate action for one Started server: a
// graceful pcs shutdown/migrate request the first time it is seen, and a
// hard virsh shutdown if a stop request has gone unanswered for 120s.
func (o *Orchestrator) actOnServer(ctx context.Context, jobUUID string, in Input, s cluster.Server, escalateAt map[string]time.Time) error {
	if in.StopServers {
		first, seen := escalateAt[s.Name]
		now := o.Clock.Now()
		if !seen {
			escalateAt[s.Name] = now
			return o.Pcs.ShutdownServer(ctx, s.Name)
		}
		if now.Sub(first) >= virshEscalateAfter {
			return o.Virsh.Shutdown(ctx, s.Name)
		}
		return nil
	}

	if _, seen := escalateAt[s.Name]; !seen {
		escalateAt[s.Name] = o.Clock.Now()
		return o.Pcs.MigrateServer(ctx, s.Name, in.PeerNode)
	}
	return nil
}

// waitForDRBDQuiesce polls every 10s while any resource reports role
// SyncSource on this host, per §4.J's WAIT_DRBD state.
func (o *Orchestrator) waitForDRBDQuiesce(ctx context.Context) error {
	for {
		sources, err := o.Drbdadm.SyncSourceResources(ctx)
		if err != nil {
			return fmt.Errorf("checking drbd sync sources: %w", err)
		}
		if len(sources) == 0 {
			return nil
		}
		o.Clock.Sleep(o.DRBDPollInterval)
	}
}

// finish implements the diagram's terminal branch: power off (updating
// host_status=stopping first) or mark the job done at 100%.
func (o *Orchestrator) finish(ctx context.Context, jobUUID string, in Input) error {
	if !in.PowerOff {
		return o.progress(ctx, jobUUID, ProgressDone, "done")
	}

	if _, err := upsert.UpsertHost(ctx, o.Executor, upsert.Host{
		UUID:   in.HostUUID,
		Name:   in.HostName,
		Type:   in.HostType,
		Key:    in.HostKey,
		Status: "stopping",
	}); err != nil {
		return fmt.Errorf("marking host stopping: %w", err)
	}
	if err := o.progress(ctx, jobUUID, ProgressDone, "powering_off"); err != nil {
		return err
	}
	return o.Systemctl.Poweroff(ctx)
}
