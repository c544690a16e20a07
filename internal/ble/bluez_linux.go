//go:build linux

package ble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cskr/pubsub/v2"
	dbus "github.com/godbus/dbus/v5"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"d30-print/internal/logger"
)

const (
	bluezService     = "org.bluez"
	adapterIface     = "org.bluez.Adapter1"
	deviceIface      = "org.bluez.Device1"
	gattCharIface    = "org.bluez.GattCharacteristic1"
	objManagerIface  = "org.freedesktop.DBus.ObjectManager"
	propsIface       = "org.freedesktop.DBus.Properties"
	errInProgress    = "org.bluez.Error.InProgress"
	errAlreadyExists = "org.bluez.Error.AlreadyConnected"
)

// servicesPollInterval is how often Connect checks that GATT services are resolved.
const servicesPollInterval = 100 * time.Millisecond

// eventBuffer is the per-subscriber queue size. Events beyond it are dropped.
const eventBuffer = 64

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// bluezManager talks to BlueZ over the system D-Bus.
type bluezManager struct {
	conn *dbus.Conn

	// Device events are published on a topic per adapter path.
	events *pubsub.PubSub[string, Event]
	seen   *xsync.MapOf[dbus.ObjectPath, struct{}]

	signals  chan *dbus.Signal
	matches  [][]dbus.MatchOption
	pumpDone chan struct{}

	// Open event streams. Close waits for all of them to unsubscribe
	// before shutting the bus down.
	mu      sync.Mutex
	closed  bool
	closing chan struct{}
	streams sync.WaitGroup

	closeOnce sync.Once
}

func newBluezManager(conn *dbus.Conn) *bluezManager {
	return &bluezManager{
		conn:     conn,
		events:   pubsub.New[string, Event](eventBuffer),
		seen:     xsync.NewMapOf[dbus.ObjectPath, struct{}](),
		signals:  make(chan *dbus.Signal, eventBuffer),
		pumpDone: make(chan struct{}),
		closing:  make(chan struct{}),
		matches: [][]dbus.MatchOption{
			{dbus.WithMatchInterface(objManagerIface), dbus.WithMatchMember("InterfacesAdded")},
			{dbus.WithMatchInterface(objManagerIface), dbus.WithMatchMember("InterfacesRemoved")},
			{dbus.WithMatchInterface(propsIface), dbus.WithMatchMember("PropertiesChanged"), dbus.WithMatchArg(0, deviceIface)},
		},
	}
}

// NewManager connects to the system bus and starts listening for device signals.
func NewManager() (Manager, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("ble: connect system bus: %w", err)
	}

	m := newBluezManager(conn)

	for _, match := range m.matches {
		if err := conn.AddMatchSignal(match...); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ble: AddMatchSignal: %w", err)
		}
	}
	conn.Signal(m.signals)
	go m.pump()

	return m, nil
}

// Adapters lists the BlueZ adapters ordered by object path.
func (m *bluezManager) Adapters(ctx context.Context) ([]Adapter, error) {
	objs, err := m.managedObjects(ctx)
	if err != nil {
		return nil, err
	}

	var paths []dbus.ObjectPath
	for path, ifaces := range objs {
		if props, ok := ifaces[adapterIface]; ok {
			if powered, ok := props["Powered"].Value().(bool); ok && !powered {
				logger.Warn("Bluetooth adapter is powered off", zap.String("adapter", string(path)))
			}
			paths = append(paths, path)
		}
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	adapters := make([]Adapter, 0, len(paths))
	for _, p := range paths {
		adapters = append(adapters, &bluezAdapter{m: m, path: p})
	}
	return adapters, nil
}

// Close releases the signal subscription and the bus connection.
func (m *bluezManager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.stopStreams()
		for _, match := range m.matches {
			_ = m.conn.RemoveMatchSignal(match...)
		}
		// Closing the connection closes m.signals, which ends pump.
		err = m.conn.Close()
		<-m.pumpDone
		m.events.Shutdown()
	})
	return err
}

// stopStreams ends every open event stream and waits until each has
// unsubscribed. Later subscriptions fail with ErrManagerClosed.
func (m *bluezManager) stopStreams() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.closing)
	}
	m.mu.Unlock()
	m.streams.Wait()
}

// subscribe opens a stream on topic. Every stream must be released.
func (m *bluezManager) subscribe(topic string) (chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	m.streams.Add(1)
	return m.events.Sub(topic), nil
}

func (m *bluezManager) release(sub chan Event, topic string) {
	defer m.streams.Done()
	go m.events.Unsub(sub, topic)
	for range sub {
	}
}

// forward copies sub to the returned channel, after replaying known, until
// ctx ends or the manager closes. The first event a stream delivers for a
// device is always DeviceDiscovered, so a dropped discovery is recovered
// from the device's next update.
func (m *bluezManager) forward(ctx context.Context, sub chan Event, topic string, known []dbus.ObjectPath) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		defer m.release(sub, topic)

		delivered := make(map[string]struct{})
		send := func(ev Event) bool {
			if _, ok := delivered[ev.ID]; !ok {
				ev.Kind = DeviceDiscovered
				delivered[ev.ID] = struct{}{}
			}
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
			case <-m.closing:
			}
			return false
		}

		for _, path := range known {
			if !send(Event{Kind: DeviceDiscovered, ID: string(path)}) {
				return
			}
		}
		for {
			select {
			case ev, ok := <-sub:
				if !ok || !send(ev) {
					return
				}
			case <-ctx.Done():
				return
			case <-m.closing:
				return
			}
		}
	}()
	return out
}

func (m *bluezManager) managedObjects(ctx context.Context) (managedObjects, error) {
	var objs managedObjects
	call := m.conn.Object(bluezService, "/").CallWithContext(ctx, objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("ble: GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("ble: decode GetManagedObjects: %w", err)
	}
	return objs, nil
}

// pump turns BlueZ signals into device events until the connection closes.
func (m *bluezManager) pump() {
	defer close(m.pumpDone)
	for sig := range m.signals {
		if sig == nil {
			continue
		}
		switch sig.Name {
		case objManagerIface + ".InterfacesAdded":
			if len(sig.Body) < 2 {
				continue
			}
			path, _ := sig.Body[0].(dbus.ObjectPath)
			ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
			if _, ok := ifaces[deviceIface]; ok {
				m.publish(path)
			}

		case objManagerIface + ".InterfacesRemoved":
			if len(sig.Body) < 2 {
				continue
			}
			path, _ := sig.Body[0].(dbus.ObjectPath)
			ifaces, _ := sig.Body[1].([]string)
			for _, iface := range ifaces {
				if iface == deviceIface {
					m.seen.Delete(path)
				}
			}

		case propsIface + ".PropertiesChanged":
			if len(sig.Body) == 0 {
				continue
			}
			if iface, _ := sig.Body[0].(string); iface == deviceIface {
				m.publish(sig.Path)
			}
		}
	}
}

// publish emits DeviceDiscovered the first time a path is seen, DeviceUpdated afterwards.
func (m *bluezManager) publish(path dbus.ObjectPath) {
	kind := DeviceUpdated
	if _, loaded := m.seen.LoadOrStore(path, struct{}{}); !loaded {
		kind = DeviceDiscovered
	}
	m.events.TryPub(Event{Kind: kind, ID: string(path)}, adapterOf(path))
}

// adapterOf returns the adapter path of a device path, e.g. /org/bluez/hci0.
func adapterOf(path dbus.ObjectPath) string {
	s := string(path)
	if i := strings.LastIndex(s, "/"); i > 0 {
		return s[:i]
	}
	return s
}

type bluezAdapter struct {
	m    *bluezManager
	path dbus.ObjectPath
}

func (a *bluezAdapter) ID() string {
	return string(a.path)
}

func (a *bluezAdapter) object() dbus.BusObject {
	return a.m.conn.Object(bluezService, a.path)
}

// Events replays devices BlueZ already knows about, then forwards live events.
func (a *bluezAdapter) Events(ctx context.Context) (<-chan Event, error) {
	topic := string(a.path)
	sub, err := a.m.subscribe(topic)
	if err != nil {
		return nil, err
	}

	objs, err := a.m.managedObjects(ctx)
	if err != nil {
		a.m.release(sub, topic)
		return nil, err
	}
	var known []dbus.ObjectPath
	for path, ifaces := range objs {
		if _, ok := ifaces[deviceIface]; ok && adapterOf(path) == topic {
			a.m.seen.Store(path, struct{}{})
			known = append(known, path)
		}
	}
	sort.Slice(known, func(i, j int) bool { return known[i] < known[j] })

	return a.m.forward(ctx, sub, topic, known), nil
}

func (a *bluezAdapter) StartScan(ctx context.Context) error {
	filter := map[string]dbus.Variant{"Transport": dbus.MakeVariant("le")}
	if err := a.object().CallWithContext(ctx, adapterIface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		logger.Debug("SetDiscoveryFilter failed", zap.String("adapter", a.ID()), zap.Error(err))
	}

	err := a.object().CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err
	if isDBusError(err, errInProgress) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ble: StartDiscovery: %w", err)
	}
	return nil
}

func (a *bluezAdapter) StopScan(ctx context.Context) error {
	if err := a.object().CallWithContext(ctx, adapterIface+".StopDiscovery", 0).Err; err != nil {
		return fmt.Errorf("ble: StopDiscovery: %w", err)
	}
	return nil
}

func (a *bluezAdapter) Properties(ctx context.Context, id string) (DeviceDescriptor, error) {
	var props map[string]dbus.Variant
	call := a.m.conn.Object(bluezService, dbus.ObjectPath(id)).CallWithContext(ctx, propsIface+".GetAll", 0, deviceIface)
	if call.Err != nil {
		return DeviceDescriptor{}, fmt.Errorf("%w: %w", ErrPropertiesFetch, call.Err)
	}
	if err := call.Store(&props); err != nil {
		return DeviceDescriptor{}, fmt.Errorf("%w: %w", ErrPropertiesFetch, err)
	}

	raw, _ := props["Address"].Value().(string)
	addr, err := ParseAddress(raw)
	if err != nil {
		return DeviceDescriptor{}, fmt.Errorf("%w: %w", ErrPropertiesFetch, err)
	}
	desc := DeviceDescriptor{Address: addr}
	if v, ok := props["Name"]; ok {
		desc.Name, desc.HasName = v.Value().(string)
	}
	return desc, nil
}

func (a *bluezAdapter) Device(ctx context.Context, id string) (Device, error) {
	path := dbus.ObjectPath(id)
	if !path.IsValid() || adapterOf(path) != string(a.path) {
		return nil, fmt.Errorf("ble: %q is not a device of %s", id, a.path)
	}
	return &bluezDevice{m: a.m, path: path}, nil
}

type bluezDevice struct {
	m    *bluezManager
	path dbus.ObjectPath
}

func (d *bluezDevice) ID() string {
	return string(d.path)
}

func (d *bluezDevice) object() dbus.BusObject {
	return d.m.conn.Object(bluezService, d.path)
}

// Connect returns once BlueZ has resolved the GATT services.
func (d *bluezDevice) Connect(ctx context.Context) error {
	err := d.object().CallWithContext(ctx, deviceIface+".Connect", 0).Err
	if err != nil && !isDBusError(err, errAlreadyExists) {
		return fmt.Errorf("ble: Device1.Connect: %w", err)
	}

	ticker := time.NewTicker(servicesPollInterval)
	defer ticker.Stop()
	for {
		v, err := d.object().GetProperty(deviceIface + ".ServicesResolved")
		if err == nil {
			if resolved, _ := v.Value().(bool); resolved {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *bluezDevice) Disconnect(ctx context.Context) error {
	if err := d.object().CallWithContext(ctx, deviceIface+".Disconnect", 0).Err; err != nil {
		return fmt.Errorf("ble: Device1.Disconnect: %w", err)
	}
	return nil
}

// Characteristics lists the GATT characteristics below the device, ordered by path.
func (d *bluezDevice) Characteristics(ctx context.Context) ([]Characteristic, error) {
	objs, err := d.m.managedObjects(ctx)
	if err != nil {
		return nil, err
	}

	prefix := string(d.path) + "/"
	var chars []Characteristic
	for path, ifaces := range objs {
		props, ok := ifaces[gattCharIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		uuid, _ := props["UUID"].Value().(string)
		flags, _ := props["Flags"].Value().([]string)
		chars = append(chars, Characteristic{
			ID:    string(path),
			UUID:  uuid,
			Flags: ParseCharFlags(flags),
		})
	}
	sort.Slice(chars, func(i, j int) bool { return chars[i].ID < chars[j].ID })
	return chars, nil
}

func (d *bluezDevice) WriteCharacteristic(ctx context.Context, c Characteristic, data []byte, wt WriteType) error {
	mode := "request"
	if wt == WithoutResponse {
		mode = "command"
	}
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant(mode)}

	obj := d.m.conn.Object(bluezService, dbus.ObjectPath(c.ID))
	if err := obj.CallWithContext(ctx, gattCharIface+".WriteValue", 0, data, opts).Err; err != nil {
		return fmt.Errorf("ble: WriteValue: %w", err)
	}
	return nil
}

func isDBusError(err error, name string) bool {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		return dbusErr.Name == name
	}
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) {
		return dbusErrPtr.Name == name
	}
	return false
}
