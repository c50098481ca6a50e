package anvilconf

import "github.com/anvil-ha/anvil/pkg/dbpeer"

// PeerConfigs converts every configured peer into the map shape
// pkg/dbpeer.Connect expects, keyed by peer UUID.
func (f *File) PeerConfigs() map[string]dbpeer.PeerConfig {
	out := make(map[string]dbpeer.PeerConfig)
	for _, p := range f.Peers() {
		out[p.UUID] = dbpeer.PeerConfig{
			UUID:         p.UUID,
			Host:         p.Host,
			Port:         p.Port,
			Name:         p.Name,
			User:         p.User,
			Password:     p.Password,
			PingTimeoutS: p.PingTimeout,
		}
	}
	return out
}
