// Package dbpeer implements the multi-master connector: it turns a map of
// configured peer databases into a live pool of handles, probing
// reachability, checking version compatibility, and picking a preferred
// reader.
package dbpeer

import "fmt"

// PeerConfig is one configured peer, as parsed from the "database::<uuid>::*"
// keys of anvil.conf.
type PeerConfig struct {
	UUID         string
	Host         string
	Port         int
	Name         string
	User         string
	Password     string
	PingTimeoutS int // 0 disables the reachability probe for this peer
}

// target returns the host:port this peer dials, used for dedup.
func (c PeerConfig) target() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ConnString builds a libpq-style connection string for pgx.
func (c PeerConfig) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		c.Host, c.Port, c.Name, c.User, c.Password,
	)
}
