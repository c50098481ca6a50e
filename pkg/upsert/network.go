package upsert

import (
	"context"
	"fmt"

	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

// NetworkInterface is a physical or virtual NIC belonging to a host.
type NetworkInterface struct {
	UUID          string
	HostUUID      string
	InterfaceName string
	MACAddress    string
	BondUUID      string // optional
	BridgeUUID    string // optional
}

// UpsertNetworkInterface inserts or updates a network_interfaces row.
func UpsertNetworkInterface(ctx context.Context, ex *sqlexec.Executor, hostExists HostExistsFunc, n NetworkInterface) (Result, error) {
	if n.HostUUID == "" || !ValidUUID(n.HostUUID) {
		return Result{}, fmt.Errorf("upsert: invalid host_uuid %q", n.HostUUID)
	}
	if n.InterfaceName == "" {
		return Result{}, fmt.Errorf("upsert: interface_name is required")
	}
	mac, err := NormalizeMAC(n.MACAddress)
	if err != nil {
		return Result{}, err
	}

	ok, err := hostExists(ctx, ex, n.HostUUID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, nil
	}

	var bondUUID, bridgeUUID any
	if n.BondUUID != "" {
		bondUUID = n.BondUUID
	}
	if n.BridgeUUID != "" {
		bridgeUUID = n.BridgeUUID
	}

	spec := Spec{
		Table:      "network_interfaces",
		HistoryOK:  true,
		UUIDColumn: "network_interface_uuid",
		UUID:       n.UUID,
		NaturalKey: map[string]any{"host_uuid": n.HostUUID, "interface_name": n.InterfaceName},
		Values: Fields{
			"host_uuid":      n.HostUUID,
			"interface_name": n.InterfaceName,
			"mac_address":    mac,
			"bond_uuid":      bondUUID,
			"bridge_uuid":    bridgeUUID,
		},
	}

	return Do(ctx, ex, spec, RefreshNow(ex))
}

// Bond is a Linux bonding device belonging to a host.
type Bond struct {
	UUID     string
	HostUUID string
	Name     string
	Mode     string
}

// UpsertBond inserts or updates a bonds row.
func UpsertBond(ctx context.Context, ex *sqlexec.Executor, hostExists HostExistsFunc, b Bond) (Result, error) {
	if b.HostUUID == "" || !ValidUUID(b.HostUUID) {
		return Result{}, fmt.Errorf("upsert: invalid host_uuid %q", b.HostUUID)
	}
	if b.Name == "" {
		return Result{}, fmt.Errorf("upsert: bond_name is required")
	}

	ok, err := hostExists(ctx, ex, b.HostUUID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, nil
	}

	mode := b.Mode
	if mode == "" {
		mode = "active-backup"
	}

	spec := Spec{
		Table:      "bonds",
		HistoryOK:  true,
		UUIDColumn: "bond_uuid",
		UUID:       b.UUID,
		NaturalKey: map[string]any{"host_uuid": b.HostUUID, "bond_name": b.Name},
		Values: Fields{
			"host_uuid": b.HostUUID,
			"bond_name": b.Name,
			"mode":      mode,
		},
	}

	return Do(ctx, ex, spec, RefreshNow(ex))
}

// Bridge is a Linux bridge device belonging to a host.
type Bridge struct {
	UUID     string
	HostUUID string
	Name     string
}

// UpsertBridge inserts or updates a bridges row.
func UpsertBridge(ctx context.Context, ex *sqlexec.Executor, hostExists HostExistsFunc, b Bridge) (Result, error) {
	if b.HostUUID == "" || !ValidUUID(b.HostUUID) {
		return Result{}, fmt.Errorf("upsert: invalid host_uuid %q", b.HostUUID)
	}
	if b.Name == "" {
		return Result{}, fmt.Errorf("upsert: bridge_name is required")
	}

	ok, err := hostExists(ctx, ex, b.HostUUID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, nil
	}

	spec := Spec{
		Table:      "bridges",
		HistoryOK:  true,
		UUIDColumn: "bridge_uuid",
		UUID:       b.UUID,
		NaturalKey: map[string]any{"host_uuid": b.HostUUID, "bridge_name": b.Name},
		Values: Fields{
			"host_uuid":   b.HostUUID,
			"bridge_name": b.Name,
		},
	}

	return Do(ctx, ex, spec, RefreshNow(ex))
}

// BridgeInterface links a network interface into a bridge.
type BridgeInterface struct {
	UUID                  string
	BridgeUUID            string
	NetworkInterfaceUUID  string
}

// UpsertBridgeInterface inserts or updates a bridge_interfaces row. Both
// referenced UUIDs are expected to already exist (foreign keys enforce it);
// there is no host to check against directly since this row is scoped by
// its bridge and interface instead.
func UpsertBridgeInterface(ctx context.Context, ex *sqlexec.Executor, bi BridgeInterface) (Result, error) {
	if !ValidUUID(bi.BridgeUUID) || !ValidUUID(bi.NetworkInterfaceUUID) {
		return Result{}, fmt.Errorf("upsert: bridge_uuid and network_interface_uuid must be valid UUIDs")
	}

	spec := Spec{
		Table:      "bridge_interfaces",
		HistoryOK:  true,
		UUIDColumn: "bridge_interface_uuid",
		UUID:       bi.UUID,
		NaturalKey: map[string]any{"bridge_uuid": bi.BridgeUUID, "network_interface_uuid": bi.NetworkInterfaceUUID},
		Values: Fields{
			"bridge_uuid":             bi.BridgeUUID,
			"network_interface_uuid": bi.NetworkInterfaceUUID,
		},
	}

	return Do(ctx, ex, spec, RefreshNow(ex))
}

// IPAddress is an address assigned to an interface, bond, or bridge. The
// sentinel address "0" marks a deleted/removed assignment rather than
// removing the row, per the schema's documented convention.
type IPAddress struct {
	UUID    string
	Address string
	Subnet  string
	OnType  string // interface, bond, or bridge
	OnUUID  string
}

var validOnTypes = map[string]bool{"interface": true, "bond": true, "bridge": true}

// UpsertIPAddress inserts or updates an ip_addresses row.
func UpsertIPAddress(ctx context.Context, ex *sqlexec.Executor, ip IPAddress) (Result, error) {
	if !validOnTypes[ip.OnType] {
		return Result{}, fmt.Errorf("upsert: invalid on_type %q", ip.OnType)
	}
	if !ValidUUID(ip.OnUUID) {
		return Result{}, fmt.Errorf("upsert: invalid on_uuid %q", ip.OnUUID)
	}

	address := ip.Address
	if address == "" {
		address = "0"
	}

	spec := Spec{
		Table:      "ip_addresses",
		HistoryOK:  true,
		UUIDColumn: "ip_address_uuid",
		UUID:       ip.UUID,
		NaturalKey: map[string]any{"on_type": ip.OnType, "on_uuid": ip.OnUUID},
		Values: Fields{
			"ip_address_address": address,
			"ip_address_subnet":  ip.Subnet,
			"on_type":             ip.OnType,
			"on_uuid":             ip.OnUUID,
		},
	}

	return Do(ctx, ex, spec, RefreshNow(ex))
}
