package cluster

import "encoding/xml"

// Role is a resource's reported state in the cluster information base.
type Role string

const (
	RoleStopped   Role = "Stopped"
	RoleStarted   Role = "Started"
	RoleMigrating Role = "Migrating"
)

// Server is one VM resource as reported by parse_cib.
type Server struct {
	Name string
	Role Role
	Node string // the first node the CIB lists for it, "" when it lists none
}

// cibDocument mirrors the subset of `pcs status xml`'s schema the
// orchestrator needs: each resource's id, role, and hosting node.
type cibDocument struct {
	XMLName   xml.Name `xml:"crm_mon"`
	Resources struct {
		Resource []cibResource `xml:"resource"`
	} `xml:"resources"`
}

type cibResource struct {
	ID    string `xml:"id,attr"`
	Role  string `xml:"role,attr"`
	Nodes []struct {
		Name string `xml:"name,attr"`
	} `xml:"node"`
}

// ParseCIB parses the XML emitted by `pcs status xml`, returning one Server
// per resource. Resources reporting a role outside the known set are
// treated as Stopped, matching the orchestrator's conservative default.
func ParseCIB(data []byte) ([]Server, error) {
	var doc cibDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	servers := make([]Server, 0, len(doc.Resources.Resource))
	for _, r := range doc.Resources.Resource {
		s := Server{Name: r.ID, Role: normalizeRole(r.Role)}
		if len(r.Nodes) > 0 {
			s.Node = r.Nodes[0].Name
		}
		servers = append(servers, s)
	}
	return servers, nil
}

func normalizeRole(raw string) Role {
	switch Role(raw) {
	case RoleStarted, RoleStopped, RoleMigrating:
		return Role(raw)
	default:
		return RoleStopped
	}
}
