package ble

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	notifyChar  = Characteristic{ID: "char0001", UUID: "0000ff01-0000-1000-8000-00805f9b34fb", Flags: Read | Notify}
	printChar   = Characteristic{ID: "char0002", UUID: "0000ff02-0000-1000-8000-00805f9b34fb", Flags: PrinterCharFlags}
	broaderChar = Characteristic{ID: "char0003", UUID: "0000ff03-0000-1000-8000-00805f9b34fb", Flags: PrinterCharFlags | Read}
	writeOnly   = Characteristic{ID: "char0004", UUID: "0000ff04-0000-1000-8000-00805f9b34fb", Flags: Write}
)

func TestConnectSelectsExactFlags(t *testing.T) {
	dev := &fakeDevice{id: "dev", chars: []Characteristic{notifyChar, broaderChar, printChar, writeOnly}}

	s, err := Connect(context.Background(), dev)

	require.NoError(t, err)
	assert.Equal(t, printChar, s.Characteristic())
	assert.True(t, dev.connected)
}

func TestConnectRejectsSupersets(t *testing.T) {
	dev := &fakeDevice{id: "dev", chars: []Characteristic{notifyChar, broaderChar, writeOnly}}

	_, err := Connect(context.Background(), dev)

	assert.ErrorIs(t, err, ErrCharacteristicNotFound)
	assert.Equal(t, 1, dev.disconnected)
}

func TestConnectAmbiguous(t *testing.T) {
	second := printChar
	second.ID = "char0005"
	dev := &fakeDevice{id: "dev", chars: []Characteristic{printChar, second}}

	_, err := Connect(context.Background(), dev)

	assert.ErrorIs(t, err, ErrCharacteristicAmbiguous)
	assert.Equal(t, 1, dev.disconnected)
}

func TestConnectFailed(t *testing.T) {
	cause := errors.New("le-connection-abort-by-local")
	dev := &fakeDevice{id: "dev", connErr: cause, chars: []Characteristic{printChar}}

	_, err := Connect(context.Background(), dev)

	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 0, dev.listed)
}

func TestConnectCharacteristicsError(t *testing.T) {
	dev := &fakeDevice{id: "dev", charsErr: errors.New("services not resolved")}

	_, err := Connect(context.Background(), dev)

	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.Equal(t, 1, dev.disconnected)
}

func TestSessionWriteWithResponse(t *testing.T) {
	dev := &fakeDevice{id: "dev", chars: []Characteristic{printChar}}
	s, err := Connect(context.Background(), dev)
	require.NoError(t, err)

	require.NoError(t, s.Write(context.Background(), []byte{1, 2, 3}))
	require.NoError(t, s.Write(context.Background(), []byte{4}))

	require.Len(t, dev.writes, 2)
	for _, w := range dev.writes {
		assert.Equal(t, WithResponse, w.wt)
		assert.Equal(t, printChar, w.char)
	}
	assert.Equal(t, []byte{1, 2, 3}, dev.writes[0].data)
	assert.Equal(t, []byte{4}, dev.writes[1].data)
}

func TestSessionWriteFailed(t *testing.T) {
	cause := errors.New("att error 0x0e")
	dev := &fakeDevice{id: "dev", chars: []Characteristic{printChar}}
	s, err := Connect(context.Background(), dev)
	require.NoError(t, err)
	dev.writeErr = cause

	err = s.Write(context.Background(), []byte{1})

	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.ErrorIs(t, err, cause)
}

func TestSessionClose(t *testing.T) {
	dev := &fakeDevice{id: "dev", chars: []Characteristic{printChar}}
	s, err := Connect(context.Background(), dev)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, dev.disconnected)

	assert.ErrorIs(t, s.Write(context.Background(), []byte{1}), ErrWriteFailed)
}
