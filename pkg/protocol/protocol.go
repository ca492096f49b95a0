package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Frame layout: magic(1) op(1) keyLen(2) valueLen(4) key value, big endian.
// The high bit of op marks an lz4-compressed value.
const (
	MagicNumber = 0x4C
	HeaderSize  = 8

	OpRow        = 0x01 // key: index
	OpPage       = 0x02 // key: offset, limit
	OpSize       = 0x03
	OpFirst      = 0x04
	OpLast       = 0x05
	OpSave       = 0x06 // value: Record
	OpDelete     = 0x07 // value: Record holding the primary key
	OpInvalidate = 0x08
	OpStats      = 0x09
	OpScope      = 0x0A // value: WHERE text

	RespOK  = 0x00
	RespErr = 0x7F // key: error code, value: message
	RespVal = 0x01

	FlagCompressed = 0x80

	MaxValueSize = 64 << 20
)

// Error codes carried in the key of a RespErr frame.
const (
	CodeInternal byte = iota
	CodeOutOfRange
	CodeNotFound
	CodeInvalid
	CodeBackend
)

var (
	ErrBadMagic = errors.New("invalid magic number")
	ErrTooLarge = errors.New("frame too large")
)

type Packet struct {
	Op    byte
	Key   []byte
	Value []byte
}

// Record is the wire form of a row: alias to textual value, nulls omitted.
type Record map[string]string

// Response is the payload of a RespVal frame.
type Response struct {
	Size     int64              `msgpack:"size,omitempty"`
	Records  []Record           `msgpack:"records,omitempty"`
	Affected int64              `msgpack:"affected,omitempty"`
	Stats    msgpack.RawMessage `msgpack:"stats,omitempty"`
}

func Encode(w io.Writer, op byte, key []byte, value []byte) error {
	if len(value) > MaxValueSize || len(key) > 0xFFFF {
		return errors.Wrapf(ErrTooLarge, "key %d, value %d bytes", len(key), len(value))
	}
	header := make([]byte, HeaderSize)
	header[0] = MagicNumber
	header[1] = op
	binary.BigEndian.PutUint16(header[2:4], uint16(len(key)))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(value)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(key) > 0 {
		if _, err := w.Write(key); err != nil {
			return err
		}
	}
	if len(value) > 0 {
		if _, err := w.Write(value); err != nil {
			return err
		}
	}
	return nil
}

func Decode(r io.Reader) (*Packet, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	if header[0] != MagicNumber {
		return nil, ErrBadMagic
	}

	op := header[1]
	kLen := binary.BigEndian.Uint16(header[2:4])
	vLen := binary.BigEndian.Uint32(header[4:8])
	if vLen > MaxValueSize {
		return nil, errors.Wrapf(ErrTooLarge, "value %d bytes", vLen)
	}

	key := make([]byte, kLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}

	val := make([]byte, vLen)
	if _, err := io.ReadFull(r, val); err != nil {
		return nil, err
	}

	return &Packet{Op: op, Key: key, Value: val}, nil
}

// WriteMessage msgpack-encodes v as the value of an op frame, lz4-compressing it
// when it exceeds threshold bytes and compression pays. A threshold <= 0 never
// compresses. A nil v sends an empty value.
func WriteMessage(w io.Writer, op byte, key []byte, v any, threshold int) error {
	var value []byte
	if v != nil {
		data, err := msgpack.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "encode payload")
		}
		value = data
	}
	if threshold > 0 && len(value) > threshold {
		packed, err := compress(value)
		if err != nil {
			return err
		}
		if packed != nil {
			op |= FlagCompressed
			value = packed
		}
	}
	return Encode(w, op, key, value)
}

// Code is the op without the compression flag.
func (p *Packet) Code() byte { return p.Op &^ FlagCompressed }

func (p *Packet) Compressed() bool { return p.Op&FlagCompressed != 0 }

// Unmarshal decodes the packet value into v, decompressing first if needed.
func (p *Packet) Unmarshal(v any) error {
	data := p.Value
	if p.Compressed() {
		raw, err := decompress(data)
		if err != nil {
			return err
		}
		data = raw
	}
	if len(data) == 0 {
		return nil
	}
	return errors.Wrap(msgpack.Unmarshal(data, v), "decode payload")
}

// compress returns size(4) + lz4 block, or nil when the data does not shrink.
func compress(data []byte) ([]byte, error) {
	out := make([]byte, 4+lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, out[4:], nil)
	if err != nil {
		return nil, errors.Wrap(err, "lz4 compress")
	}
	if n == 0 || n+4 >= len(data) {
		return nil, nil // incompressible
	}
	binary.BigEndian.PutUint32(out[:4], uint32(len(data)))
	return out[:4+n], nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, errors.New("compressed value too small")
	}
	size := binary.BigEndian.Uint32(data[:4])
	if size > MaxValueSize {
		return nil, errors.Wrapf(ErrTooLarge, "uncompressed value %d bytes", size)
	}
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(data[4:], out)
	if err != nil {
		return nil, errors.Wrap(err, "lz4 uncompress")
	}
	if uint32(n) != size {
		return nil, errors.New("decompressed size mismatch")
	}
	return out, nil
}

func Int64Key(values ...int64) []byte {
	key := make([]byte, 8*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint64(key[8*i:], uint64(v))
	}
	return key
}

// ParseInt64Key splits an Int64Key of exactly n values.
func ParseInt64Key(key []byte, n int) ([]int64, error) {
	if len(key) != 8*n {
		return nil, errors.Errorf("key has %d bytes, want %d", len(key), 8*n)
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(binary.BigEndian.Uint64(key[8*i:]))
	}
	return out, nil
}
