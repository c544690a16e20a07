package ble

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeManager struct {
	adapters []Adapter
	err      error
}

func (m *fakeManager) Adapters(context.Context) ([]Adapter, error) {
	return m.adapters, m.err
}

func (m *fakeManager) Close() error {
	return nil
}

type fakeAdapter struct {
	id      string
	events  []Event
	hold    bool
	props   map[string]DeviceDescriptor
	propErr map[string]error
	// later replaces props from the second fetch of a device on.
	later map[string]DeviceDescriptor
	// propDelay blocks every fetch without watching the context.
	propDelay time.Duration

	startErr      error
	panicOnEvents bool

	mu        sync.Mutex
	started   int
	stopped   int
	propCalls map[string]int
}

func (a *fakeAdapter) ID() string {
	return a.id
}

func (a *fakeAdapter) Events(ctx context.Context) (<-chan Event, error) {
	if a.panicOnEvents {
		panic("adapter exploded")
	}
	ch := make(chan Event)
	go func() {
		defer close(ch)
		for _, ev := range a.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if a.hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (a *fakeAdapter) StartScan(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return a.startErr
	}
	a.started++
	return nil
}

func (a *fakeAdapter) StopScan(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped++
	return nil
}

func (a *fakeAdapter) counts() (started, stopped int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started, a.stopped
}

func (a *fakeAdapter) Properties(_ context.Context, id string) (DeviceDescriptor, error) {
	if a.propDelay > 0 {
		time.Sleep(a.propDelay)
	}
	a.mu.Lock()
	if a.propCalls == nil {
		a.propCalls = make(map[string]int)
	}
	a.propCalls[id]++
	calls := a.propCalls[id]
	a.mu.Unlock()

	if err, ok := a.propErr[id]; ok {
		return DeviceDescriptor{}, err
	}
	if d, ok := a.later[id]; ok && calls > 1 {
		return d, nil
	}
	d, ok := a.props[id]
	if !ok {
		return DeviceDescriptor{}, ErrPropertiesFetch
	}
	return d, nil
}

func (a *fakeAdapter) Device(_ context.Context, id string) (Device, error) {
	return &fakeDevice{id: id}, nil
}

type fakeWrite struct {
	char Characteristic
	data []byte
	wt   WriteType
}

type fakeDevice struct {
	id       string
	chars    []Characteristic
	connErr  error
	charsErr error
	writeErr error

	connected    bool
	disconnected int
	listed       int
	writes       []fakeWrite
}

func (d *fakeDevice) ID() string {
	return d.id
}

func (d *fakeDevice) Connect(context.Context) error {
	if d.connErr != nil {
		return d.connErr
	}
	d.connected = true
	return nil
}

func (d *fakeDevice) Disconnect(context.Context) error {
	d.disconnected++
	d.connected = false
	return nil
}

func (d *fakeDevice) Characteristics(context.Context) ([]Characteristic, error) {
	d.listed++
	return d.chars, d.charsErr
}

func (d *fakeDevice) WriteCharacteristic(_ context.Context, c Characteristic, data []byte, wt WriteType) error {
	if !d.connected {
		return errors.New("not connected")
	}
	if d.writeErr != nil {
		return d.writeErr
	}
	d.writes = append(d.writes, fakeWrite{char: c, data: append([]byte(nil), data...), wt: wt})
	return nil
}

func mustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func named(addr, name string) DeviceDescriptor {
	return DeviceDescriptor{Address: mustAddress(addr), Name: name, HasName: true}
}

func discovered(ids ...string) []Event {
	events := make([]Event, 0, len(ids))
	for _, id := range ids {
		events = append(events, Event{Kind: DeviceDiscovered, ID: id})
	}
	return events
}
