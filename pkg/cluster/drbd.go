package cluster

import (
	"bufio"
	"strings"
)

// parseSyncSourceResources scans `drbdadm status` output for resources
// currently reporting role:SyncSource, which the shutdown orchestrator's
// WAIT_DRBD state (§4.J) must hold on until none remain. The output format
// is one resource block per stanza; a resource name line is followed by
// indented "role:" lines for each of its connections.
func parseSyncSourceResources(output string) []string {
	var (
		resources []string
		current   string
	)

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		// A resource header line starts in column zero (no leading
		// whitespace) and names the resource as its first field.
		if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			fields := strings.Fields(trimmed)
			if len(fields) > 0 {
				current = fields[0]
			}
			continue
		}

		if current == "" {
			continue
		}
		if strings.Contains(trimmed, "role:SyncSource") {
			resources = append(resources, current)
		}
	}

	return dedupStrings(resources)
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
