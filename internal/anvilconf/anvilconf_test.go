package anvilconf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleConf = `# anvil.conf
database::550e8400-e29b-41d4-a716-446655440000::host = 10.0.0.1
database::550e8400-e29b-41d4-a716-446655440000::port = 5432
database::550e8400-e29b-41d4-a716-446655440000::name = anvil
database::550e8400-e29b-41d4-a716-446655440000::user = anvil
database::550e8400-e29b-41d4-a716-446655440000::password = secret
database::550e8400-e29b-41d4-a716-446655440000::ping = 5

sys::database::locking_reap_age = 600
sys::database::archive::trigger = 5000
sys::database::archive::compress = false
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "anvil.conf")
	if err := os.WriteFile(path, []byte(sampleConf), 0o600); err != nil {
		t.Fatalf("writing sample conf: %v", err)
	}
	return path
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.Peers()) != 0 {
		t.Errorf("expected no peers from a missing file, got %v", f.Peers())
	}
}

func TestPeersParsesDatabaseNamespace(t *testing.T) {
	f, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	peers := f.Peers()
	if len(peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(peers))
	}
	p := peers[0]
	if p.UUID != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("unexpected peer uuid: %q", p.UUID)
	}
	if p.Host != "10.0.0.1" || p.Port != 5432 || p.Name != "anvil" || p.User != "anvil" || p.Password != "secret" || p.PingTimeout != 5 {
		t.Errorf("unexpected peer fields: %+v", p)
	}
}

func TestArchiveSettingsAndDatabaseSettings(t *testing.T) {
	f, err := Load(writeSample(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	arc := f.ArchiveSettings()
	if arc.Trigger != 5000 {
		t.Errorf("expected configured trigger 5000, got %d", arc.Trigger)
	}
	if arc.Count != 10000 {
		t.Errorf("expected default count 10000, got %d", arc.Count)
	}
	if arc.Compress {
		t.Errorf("expected compress=false to be honored")
	}

	db := f.DatabaseSettings()
	if db.LockingReapAge != 600 {
		t.Errorf("expected configured locking_reap_age 600, got %d", db.LockingReapAge)
	}
	if db.MaximumBatchSize != 25000 {
		t.Errorf("expected default maximum_batch_size 25000, got %d", db.MaximumBatchSize)
	}
}

func TestSetSaveRoundTripPreservesComments(t *testing.T) {
	path := writeSample(t)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	f.Set("sys::database::locking_reap_age", "900")
	f.Set("sys::database::new_key", "1")
	if err := f.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	if reloaded.GetInt("sys::database::locking_reap_age", -1) != 900 {
		t.Errorf("expected updated value to persist")
	}
	if reloaded.GetDefault("sys::database::new_key", "") != "1" {
		t.Errorf("expected new key to be appended and persisted")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading saved file: %v", err)
	}
	if !strings.Contains(string(data), "# anvil.conf") {
		t.Errorf("expected leading comment to survive Save, got: %s", data)
	}
}
