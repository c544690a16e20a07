// Package ble finds the D30 over Bluetooth LE and opens a write session to it.
//
// The platform stack is reached through the Manager, Adapter and Device
// interfaces; NewManager returns the implementation for the running OS.
package ble

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
)

// TargetName is the local name the D30 advertises.
const TargetName = "D30"

// Address is a 6-byte Bluetooth device address.
type Address [6]byte

// ParseAddress parses the colon-delimited form, e.g. "AA:BB:CC:DD:EE:FF".
func ParseAddress(s string) (Address, error) {
	var a Address
	if strings.Count(s, ":") != len(a)-1 {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != len(a) {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	copy(a[:], hw)
	return a, nil
}

// String returns the upper-case colon-delimited form
func (a Address) String() string {
	return strings.ToUpper(net.HardwareAddr(a[:]).String())
}

// DeviceDescriptor is what a scan learns about an advertising device.
type DeviceDescriptor struct {
	Address Address
	Name    string
	HasName bool
}

// MatchCriterion selects the target device during discovery.
type MatchCriterion struct {
	byAddress bool
	address   Address
	name      string
}

// ByAddress matches a device by exact address
func ByAddress(addr Address) MatchCriterion {
	return MatchCriterion{byAddress: true, address: addr}
}

// ByName matches a device by exact advertised name
func ByName(name string) MatchCriterion {
	return MatchCriterion{name: name}
}

// DefaultCriterion matches addr when set, otherwise the D30 by name.
func DefaultCriterion(addr *Address) MatchCriterion {
	if addr != nil {
		return ByAddress(*addr)
	}
	return ByName(TargetName)
}

// Match reports whether d is the device this criterion selects.
func (c MatchCriterion) Match(d DeviceDescriptor) bool {
	if c.byAddress {
		return d.Address == c.address
	}
	return d.HasName && d.Name == c.name
}

func (c MatchCriterion) String() string {
	if c.byAddress {
		return "address " + c.address.String()
	}
	return fmt.Sprintf("name %q", c.name)
}

// CharFlags are GATT characteristic properties.
type CharFlags uint8

const (
	Broadcast CharFlags = 1 << iota
	Read
	WriteWithoutResponse
	Write
	Notify
	Indicate
	AuthenticatedSignedWrites
	ExtendedProperties
)

// PrinterCharFlags is the exact property set of the D30 print endpoint.
const PrinterCharFlags = Write | WriteWithoutResponse

var flagNames = []struct {
	flag CharFlags
	name string
}{
	{Broadcast, "broadcast"},
	{Read, "read"},
	{WriteWithoutResponse, "write-without-response"},
	{Write, "write"},
	{Notify, "notify"},
	{Indicate, "indicate"},
	{AuthenticatedSignedWrites, "authenticated-signed-writes"},
	{ExtendedProperties, "extended-properties"},
}

// ParseCharFlags converts BlueZ flag names. Unknown names are ignored.
func ParseCharFlags(names []string) CharFlags {
	var f CharFlags
	for _, n := range names {
		for _, fn := range flagNames {
			if fn.name == n {
				f |= fn.flag
			}
		}
	}
	return f
}

func (f CharFlags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Characteristic is a GATT endpoint on a connected device.
type Characteristic struct {
	ID    string
	UUID  string
	Flags CharFlags
}

// WriteType selects acknowledged or unacknowledged writes.
type WriteType int

const (
	WithResponse WriteType = iota
	WithoutResponse
)

// EventKind tells apart first sightings from updates.
type EventKind int

const (
	DeviceDiscovered EventKind = iota
	DeviceUpdated
)

// Event is one entry of an adapter's discovery stream.
type Event struct {
	Kind EventKind
	ID   string
}

// Manager enumerates the host's Bluetooth adapters.
type Manager interface {
	Adapters(ctx context.Context) ([]Adapter, error)
	io.Closer
}

// Adapter is a host radio that can scan.
type Adapter interface {
	ID() string

	// Events streams discovery events until ctx is done, then closes the channel.
	Events(ctx context.Context) (<-chan Event, error)

	StartScan(ctx context.Context) error
	StopScan(ctx context.Context) error

	// Properties reads the advertised address and name of a device.
	Properties(ctx context.Context, id string) (DeviceDescriptor, error)

	// Device returns a handle for a discovered device.
	Device(ctx context.Context, id string) (Device, error)
}

// Device is a peripheral handle. It becomes unusable when the link drops.
type Device interface {
	ID() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Characteristics(ctx context.Context) ([]Characteristic, error)
	WriteCharacteristic(ctx context.Context, c Characteristic, data []byte, wt WriteType) error
}
