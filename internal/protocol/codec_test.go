package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	maxmcs := 24
	cases := []Message{
		&HelloRequest{Txn: "t1"},
		&HelloReply{
			Txn:          "t2",
			AgentID:      7,
			BSID:         0xABCD,
			Capabilities: NewCapabilitySet(CapLoPHY, CapHiMAC, CapRRC),
			Direction:    1,
		},
		&EchoRequest{Txn: "t3", Seq: 42},
		&SFTrigger{Txn: "t4", AgentID: 1, Frame: 1023, Subframe: 9},
		&EnbConfigReply{
			Txn:     "t5",
			AgentID: 1,
			Apply:   true,
			CellConfigs: []CellConfig{{
				CellID:      0,
				DLBandwidth: 25,
				ULBandwidth: 25,
				DLFreq:      2680,
				ULFreq:      2560,
				EutraBand:   7,
				SliceConfig: &SliceConfig{
					DL: SliceDirConfig{Algorithm: SliceAlgorithmStatic, Slices: []Slice{
						{ID: 0, MaxMCS: &maxmcs},
					}},
				},
			}},
		},
		&StatsReply{
			Txn:     "t6",
			AgentID: 1,
			UEStats: map[RNTI]UEMACStatsReport{
				1001: {PHR: 10, BSR: []int{1, 2, 3}},
			},
		},
		&AgentReconfiguration{Txn: "t7", AgentID: 2, Policy: "some: yaml\n"},
		&Disconnect{Txn: "t8", Reason: "shutdown"},
	}

	for _, original := range cases {
		t.Run(original.Kind().String(), func(t *testing.T) {
			buf, err := Encode(original)
			require.NoError(t, err)

			decoded, consumed, err := Decode(buf)
			require.NoError(t, err)
			assert.Equal(t, len(buf), consumed)
			assert.Equal(t, original.Kind(), decoded.Kind())
			assert.Equal(t, original.TxnID(), decoded.TxnID())
			assert.Equal(t, original, decoded)
		})
	}
}

func TestDecodeNeedMore(t *testing.T) {
	msg := &EchoRequest{Txn: "x", Seq: 1}
	buf, err := Encode(msg)
	require.NoError(t, err)

	for n := 0; n < len(buf); n++ {
		_, consumed, err := Decode(buf[:n])
		assert.ErrorIs(t, err, ErrNeedMore)
		assert.Equal(t, 0, consumed)
	}
}

func TestDecodeMultipleFramesConsumesOneAtATime(t *testing.T) {
	a, err := Encode(&EchoRequest{Txn: "a", Seq: 1})
	require.NoError(t, err)
	b, err := Encode(&EchoRequest{Txn: "b", Seq: 2})
	require.NoError(t, err)

	buf := append(append([]byte{}, a...), b...)

	first, n1, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(a), n1)
	assert.Equal(t, "a", first.TxnID())

	second, n2, err := Decode(buf[n1:])
	require.NoError(t, err)
	assert.Equal(t, len(b), n2)
	assert.Equal(t, "b", second.TxnID())
}

func TestDecodeMalformedUnknownKind(t *testing.T) {
	buf, err := Encode(&EchoRequest{Txn: "z", Seq: 1})
	require.NoError(t, err)

	// Corrupt the kind tag inside the JSON envelope by replacing the
	// single digit of "kind":<n> with 0, which no message kind uses.
	corrupted := []byte(string(buf))
	idx := -1
	needle := []byte(`"kind":`)
	for i := 0; i+len(needle) < len(corrupted); i++ {
		if string(corrupted[i:i+len(needle)]) == string(needle) {
			idx = i + len(needle)
			break
		}
	}
	require.GreaterOrEqual(t, idx, 0)
	corrupted[idx] = '0'

	_, _, err = Decode(corrupted)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeMalformedTruncatedLengthOverMax(t *testing.T) {
	buf := make([]byte, 8)
	buf[0] = 0xFF
	buf[1] = 0xFF
	buf[2] = 0xFF
	buf[3] = 0xFF
	_, _, err := Decode(buf)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNewTxnIDUnique(t *testing.T) {
	a := NewTxnID()
	b := NewTxnID()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}
