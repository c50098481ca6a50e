package resync

import (
	"reflect"
	"testing"
)

func TestUUIDColumnCandidates(t *testing.T) {
	cases := []struct {
		table string
		want  []string
	}{
		{"hosts", []string{"hosts_uuid", "host_uuid"}},
		{"ip_addresses", []string{"ip_addresses_uuid", "ip_addresse_uuid", "ip_address_uuid"}},
		{"mac_to_ip", []string{"mac_to_ip_uuid"}},
	}
	for _, c := range cases {
		got := uuidColumnCandidates(c.table)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("uuidColumnCandidates(%q) = %v, want %v", c.table, got, c.want)
		}
	}
}
