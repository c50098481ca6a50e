// Package synctables names the tables the Drift Detector and Resync Engine
// both operate over, in dependency order: a table referenced by another
// table's foreign key always appears before its dependent.
package synctables

// CheckList returns the synced tables in check-order. "states" is
// intentionally absent — it is ephemeral per-host data, exempt from drift
// detection and resync per §4.E/§4.F.
func CheckList() []string {
	return []string{
		"hosts",
		"users",
		"variables",
		"jobs",
		"alerts",
		"network_interfaces",
		"bonds",
		"bridges",
		"bridge_interfaces",
		"ip_addresses",
		"files",
		"file_locations",
		"ouis",
		"mac_to_ip",
		"sessions",
	}
}
