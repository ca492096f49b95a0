package protocol

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	buf := new(bytes.Buffer)
	key := Int64Key(1000)
	val := []byte("hello")

	require.NoError(t, Encode(buf, OpRow, key, val))
	pkt, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, byte(OpRow), pkt.Op)
	assert.Equal(t, key, pkt.Key)
	assert.Equal(t, val, pkt.Value)

	idx, err := ParseInt64Key(pkt.Key, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1000}, idx)
	_, err = ParseInt64Key(pkt.Key, 2)
	assert.Error(t, err)
}

func TestDecodeInvalidMagic(t *testing.T) {
	buf := bytes.NewReader([]byte{0x00, OpSave, 0, 8, 0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'})
	_, err := Decode(buf)
	assert.True(t, errors.Is(err, ErrBadMagic))
}

func TestDecodeIncompleteHeader(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{MagicNumber, 0x01}))
	assert.Error(t, err)
}

func TestDecodeOversizedValue(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{MagicNumber, OpSave, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF}))
	assert.True(t, errors.Is(err, ErrTooLarge))
}

func TestEmptyFrames(t *testing.T) {
	for _, op := range []byte{OpSize, OpFirst, OpLast, OpInvalidate, OpStats} {
		buf := new(bytes.Buffer)
		require.NoError(t, WriteMessage(buf, op, nil, nil, 0))
		pkt, err := Decode(buf)
		require.NoError(t, err)
		assert.Equal(t, op, pkt.Code())
		assert.Empty(t, pkt.Key)
		assert.Empty(t, pkt.Value)

		var resp Response
		require.NoError(t, pkt.Unmarshal(&resp))
		assert.Zero(t, resp.Size)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	resp := Response{
		Size:    3,
		Records: []Record{{"id": "1", "name": "a"}, {"id": "2"}},
	}
	buf := new(bytes.Buffer)
	require.NoError(t, WriteMessage(buf, RespVal, nil, resp, 1<<20))
	pkt, err := Decode(buf)
	require.NoError(t, err)
	assert.False(t, pkt.Compressed())

	var got Response
	require.NoError(t, pkt.Unmarshal(&got))
	assert.Equal(t, resp.Size, got.Size)
	assert.Equal(t, resp.Records, got.Records)
}

func TestCompression(t *testing.T) {
	var records []Record
	for i := 0; i < 500; i++ {
		records = append(records, Record{"id": "42", "name": strings.Repeat("abc", 10)})
	}
	resp := Response{Size: 500, Records: records}

	buf := new(bytes.Buffer)
	require.NoError(t, WriteMessage(buf, RespVal, nil, resp, 256))
	wire := buf.Len()
	pkt, err := Decode(buf)
	require.NoError(t, err)
	assert.True(t, pkt.Compressed())
	assert.Equal(t, byte(RespVal), pkt.Code())

	plain := new(bytes.Buffer)
	require.NoError(t, WriteMessage(plain, RespVal, nil, resp, 0))
	assert.Less(t, wire, plain.Len())

	var got Response
	require.NoError(t, pkt.Unmarshal(&got))
	assert.Equal(t, records, got.Records)

	// a short value stays uncompressed even above a tiny threshold
	small := new(bytes.Buffer)
	require.NoError(t, WriteMessage(small, OpScope, nil, "x", 1))
	pkt, err = Decode(small)
	require.NoError(t, err)
	assert.False(t, pkt.Compressed())
}

func TestCorruptCompressedValue(t *testing.T) {
	pkt := &Packet{Op: RespVal | FlagCompressed, Value: []byte{0, 0, 0, 10, 0xFF}}
	var resp Response
	assert.Error(t, pkt.Unmarshal(&resp))

	pkt.Value = []byte{1}
	assert.Error(t, pkt.Unmarshal(&resp))
}
