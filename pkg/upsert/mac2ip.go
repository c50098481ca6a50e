package upsert

import (
	"context"
	"fmt"
	"net"

	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

// MACToIP records a MAC address observed against an IP address, independent
// of which interface reported it.
type MACToIP struct {
	UUID       string
	MACAddress string
	IPAddress  string
}

// UpsertMACToIP inserts or updates a mac_to_ip row.
func UpsertMACToIP(ctx context.Context, ex *sqlexec.Executor, m MACToIP) (Result, error) {
	mac, err := NormalizeMAC(m.MACAddress)
	if err != nil {
		return Result{}, err
	}
	if net.ParseIP(m.IPAddress) == nil {
		return Result{}, fmt.Errorf("upsert: invalid ip address %q", m.IPAddress)
	}

	spec := Spec{
		Table:      "mac_to_ip",
		HistoryOK:  true,
		UUIDColumn: "mac_to_ip_uuid",
		UUID:       m.UUID,
		NaturalKey: map[string]any{"mac_address": mac, "ip_address": m.IPAddress},
		Values: Fields{
			"mac_address": mac,
			"ip_address":  m.IPAddress,
		},
	}

	return Do(ctx, ex, spec, RefreshNow(ex))
}
