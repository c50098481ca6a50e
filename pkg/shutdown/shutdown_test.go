package shutdown

import (
	"context"
	"testing"
	"time"

	"github.com/anvil-ha/anvil/pkg/cluster"
)

// fakeClock advances its own clock only on Sleep, so tests run instantly
// while still exercising the 120s virsh-escalation comparison.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

func cibXML(role string, node string, ids ...string) string {
	out := `<crm_mon><resources>`
	for _, id := range ids {
		out += `<resource id="` + id + `" role="` + role + `"><node name="` + node + `"/></resource>`
	}
	out += `</resources></crm_mon>`
	return out
}

func newTestOrchestrator(runner *cluster.RecordingRunner) (*Orchestrator, *[]string) {
	o := New(nil, runner)
	o.Clock = &fakeClock{now: time.Unix(0, 0)}
	var progressLog []string
	o.ReportProgress = func(_ context.Context, _ string, pct int, status string) error {
		progressLog = append(progressLog, status)
		_ = pct
		return nil
	}
	return o, &progressLog
}

// TestMigrateThenStop reproduces §8 scenario 5: a node with two running
// servers and a healthy peer withdraws with stop-servers=false. Both
// servers migrate away, DRBD shows no SyncSource, and the cluster stops.
func TestMigrateThenStop(t *testing.T) {
	runner := &cluster.RecordingRunner{
		Outputs: []string{
			cibXML("Started", "node1", "s1", "s2"),  // call 0: enumerate
			"",                                       // call 1: migrate s1
			"",                                       // call 2: migrate s2
			cibXML("Migrating", "node1", "s1", "s2"), // call 3: re-poll
			cibXML("Started", "node2", "s1", "s2"),   // call 4: re-poll, settled on peer
			"",                                       // call 5: drbdadm status, no sync sources
			"",                                       // call 6: drbdadm down all
			"",                                       // call 7: pcs cluster stop
		},
	}

	o, progressLog := newTestOrchestrator(runner)
	o.ClusterPollInterval = time.Millisecond
	o.DRBDPollInterval = time.Millisecond

	in := Input{StopServers: false, LocalNode: "node1", PeerNode: "node2"}
	if err := o.Run(context.Background(), "job-1", in); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	wantProgress := []string{
		"enumerated", "migrating_or_stopping",
		"waiting_for_servers", "waiting_for_servers",
		"servers_settled", "waiting_drbd", "drbd_down",
		"stopping_cluster", "cluster_stopped", "done",
	}
	if len(*progressLog) != len(wantProgress) {
		t.Fatalf("progress log = %v, want %v", *progressLog, wantProgress)
	}
	for i, want := range wantProgress {
		if (*progressLog)[i] != want {
			t.Errorf("progress[%d] = %q, want %q", i, (*progressLog)[i], want)
		}
	}

	var gotCalls []string
	for _, c := range runner.Calls {
		gotCalls = append(gotCalls, c.Name+" "+c.Args[0])
	}
	if len(gotCalls) != 8 {
		t.Fatalf("expected 8 collaborator calls, got %d: %v", len(gotCalls), gotCalls)
	}
	if runner.Calls[1].Args[0] != "resource" || runner.Calls[1].Args[2] != "s1" {
		t.Errorf("call 1 = %v, want a migrate of s1", runner.Calls[1])
	}
}

// TestActOnServerEscalatesAfter120s verifies the graceful-then-hard stop
// escalation: a first Started sighting issues pcs shutdown, and only once
// 120s have elapsed on the injected clock does virsh shutdown fire.
func TestActOnServerEscalatesAfter120s(t *testing.T) {
	runner := &cluster.RecordingRunner{Outputs: []string{"", "", ""}}
	o, _ := newTestOrchestrator(runner)
	clk := o.Clock.(*fakeClock)

	s := cluster.Server{Name: "s1", Role: cluster.RoleStarted, Node: "node1"}
	in := Input{StopServers: true, LocalNode: "node1"}
	escalateAt := make(map[string]time.Time)

	if err := o.actOnServer(context.Background(), "job-1", in, s, escalateAt); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if runner.Calls[0].Name != "pcs" || runner.Calls[0].Args[1] != "disable" {
		t.Fatalf("first action should be a graceful pcs shutdown, got %v", runner.Calls[0])
	}

	// Not yet 120s: no new action expected beyond the recorded no-op.
	clk.Sleep(60 * time.Second)
	if err := o.actOnServer(context.Background(), "job-1", in, s, escalateAt); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(runner.Calls) != 1 {
		t.Fatalf("expected no escalation before 120s, got %d calls", len(runner.Calls))
	}

	clk.Sleep(61 * time.Second)
	if err := o.actOnServer(context.Background(), "job-1", in, s, escalateAt); err != nil {
		t.Fatalf("third call: %v", err)
	}
	if len(runner.Calls) != 2 || runner.Calls[1].Name != "virsh" {
		t.Fatalf("expected a virsh escalation after 120s, got %v", runner.Calls)
	}
}

// TestWaitForDRBDQuiesceHoldsWhileSyncSource verifies the WAIT_DRBD state
// keeps polling while any resource reports role:SyncSource and returns as
// soon as none do.
func TestWaitForDRBDQuiesceHoldsWhileSyncSource(t *testing.T) {
	runner := &cluster.RecordingRunner{
		Outputs: []string{
			"r0 role:SyncSource\n",
			"r0 role:SyncTarget\n",
		},
	}
	o, _ := newTestOrchestrator(runner)
	o.DRBDPollInterval = time.Millisecond

	if err := o.waitForDRBDQuiesce(context.Background()); err != nil {
		t.Fatalf("waitForDRBDQuiesce: %v", err)
	}
	if len(runner.Calls) != 2 {
		t.Fatalf("expected exactly 2 polls, got %d", len(runner.Calls))
	}
}

// TestEnumerateClusterDown verifies §4.J's "if cluster down -> skip to
// CLUSTER_STOPPED" branch: a failing pcs status call (cluster stack not
// running) is treated as clusterUp=false, not an error.
func TestEnumerateClusterDown(t *testing.T) {
	runner := &cluster.RecordingRunner{
		Outputs: []string{""},
		Errs:    []error{errDown},
	}
	o, _ := newTestOrchestrator(runner)

	servers, clusterUp, err := o.enumerate(context.Background())
	if err != nil {
		t.Fatalf("enumerate returned error: %v", err)
	}
	if clusterUp {
		t.Fatalf("expected clusterUp=false when pcs status fails")
	}
	if servers != nil {
		t.Fatalf("expected no servers when cluster is down, got %v", servers)
	}
}

var errDown = &downError{}

type downError struct{}

func (*downError) Error() string { return "pcs: cluster not running" }
