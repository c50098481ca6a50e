package cluster

import "testing"

func TestParseCIBRolesAndNodes(t *testing.T) {
	xmlDoc := []byte(`<crm_mon>
		<resources>
			<resource id="vm-web1" role="Started">
				<node name="node1"/>
			</resource>
			<resource id="vm-db1" role="Stopped">
			</resource>
			<resource id="vm-app1" role="Migrating">
				<node name="node2"/>
			</resource>
			<resource id="vm-weird" role="Unknown">
				<node name="node1"/>
			</resource>
		</resources>
	</crm_mon>`)

	servers, err := ParseCIB(xmlDoc)
	if err != nil {
		t.Fatalf("ParseCIB: %v", err)
	}
	if len(servers) != 4 {
		t.Fatalf("expected 4 servers, got %d", len(servers))
	}

	want := map[string]Server{
		"vm-web1":  {Name: "vm-web1", Role: RoleStarted, Node: "node1"},
		"vm-db1":   {Name: "vm-db1", Role: RoleStopped, Node: ""},
		"vm-app1":  {Name: "vm-app1", Role: RoleMigrating, Node: "node2"},
		"vm-weird": {Name: "vm-weird", Role: RoleStopped, Node: "node1"},
	}
	for _, got := range servers {
		w, ok := want[got.Name]
		if !ok {
			t.Fatalf("unexpected server %q", got.Name)
		}
		if got != w {
			t.Errorf("server %q: got %+v, want %+v", got.Name, got, w)
		}
	}
}

func TestParseCIBMalformed(t *testing.T) {
	if _, err := ParseCIB([]byte("not xml")); err == nil {
		t.Error("expected an error parsing malformed XML")
	}
}

func TestParseSyncSourceResources(t *testing.T) {
	output := `r0 role:Secondary
  node1 role:SyncSource
  node2 role:SyncTarget
r1 role:Secondary
  node1 role:Secondary
  node2 role:Secondary
`
	got := parseSyncSourceResources(output)
	if len(got) != 1 || got[0] != "r0" {
		t.Fatalf("expected [r0], got %v", got)
	}
}

func TestParseSyncSourceResourcesDedup(t *testing.T) {
	output := `r0 role:Secondary
  node1 role:SyncSource
  node2 role:SyncSource
`
	got := parseSyncSourceResources(output)
	if len(got) != 1 || got[0] != "r0" {
		t.Fatalf("expected deduplicated [r0], got %v", got)
	}
}

func TestParseSyncSourceResourcesNone(t *testing.T) {
	output := `r0 role:Secondary
  node1 role:Secondary
`
	got := parseSyncSourceResources(output)
	if len(got) != 0 {
		t.Fatalf("expected no SyncSource resources, got %v", got)
	}
}
