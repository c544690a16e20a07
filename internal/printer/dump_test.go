package printer

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpRecordsEachBand(t *testing.T) {
	var buf bytes.Buffer
	d := NewDump(&buf)

	require.NoError(t, Print(context.Background(), stripes(96, 300), d))

	recs, err := DecodeRecords(&buf)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	for i, rec := range recs {
		assert.Equal(t, i, rec.Band)
		payload, err := hex.DecodeString(rec.Payload)
		require.NoError(t, err)
		assert.Len(t, payload, rec.Size)
		assert.Equal(t, "1f1124001b401d7630000c004001", rec.Payload[:28])
	}
}

func TestDumpCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	assert.Error(t, NewDump(&buf).Write(ctx, []byte{1}))
	assert.Zero(t, buf.Len())
}
