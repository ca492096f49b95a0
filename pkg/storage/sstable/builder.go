package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

// File layout:
//
//	entries  [KeyLen 4B][Key][ValLen 4B][Val] ...
//	index    [Count 4B] ([KeyLen 4B][Key][Offset 8B]) ...
//	footer   [Entries 8B][IndexStart 8B][Magic 8B]
const (
	MagicNumber = 0x4C49535444425301
	IndexRate   = 100
	FooterSize  = 24
)

var ErrUnsorted = errors.New("sstable: keys must be added in ascending order")

type Builder struct {
	file         *os.File
	writer       *bufio.Writer
	offset       int64
	count        int64
	lastKey      []byte
	indexKeys    [][]byte
	indexOffsets []int64
}

func NewBuilder(filename string) (*Builder, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return &Builder{
		file:   f,
		writer: bufio.NewWriter(f),
		offset: 0,
	}, nil
}

// Add appends one entry. Keys must be strictly ascending under bytes.Compare.
func (b *Builder) Add(key, val []byte) error {
	if b.count > 0 && bytes.Compare(key, b.lastKey) <= 0 {
		return errors.Wrapf(ErrUnsorted, "key %q after %q", key, b.lastKey)
	}
	if b.count%IndexRate == 0 {
		b.indexKeys = append(b.indexKeys, bytes.Clone(key))
		b.indexOffsets = append(b.indexOffsets, b.offset)
	}

	if err := writeBytes(b.writer, key); err != nil {
		return err
	}
	if err := writeBytes(b.writer, val); err != nil {
		return err
	}

	b.offset += 8 + int64(len(key)) + int64(len(val))
	b.count++
	b.lastKey = append(b.lastKey[:0], key...)
	return nil
}

func writeBytes(w *bufio.Writer, p []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(p))); err != nil {
		return err
	}
	_, err := w.Write(p)
	return err
}

// Close writes the index and footer and syncs the file.
func (b *Builder) Close() error {
	indexStart := b.offset

	if err := binary.Write(b.writer, binary.LittleEndian, int32(len(b.indexKeys))); err != nil {
		return b.abort(err)
	}
	for i := range b.indexKeys {
		if err := writeBytes(b.writer, b.indexKeys[i]); err != nil {
			return b.abort(err)
		}
		if err := binary.Write(b.writer, binary.LittleEndian, b.indexOffsets[i]); err != nil {
			return b.abort(err)
		}
	}

	for _, v := range []int64{b.count, indexStart, MagicNumber} {
		if err := binary.Write(b.writer, binary.LittleEndian, v); err != nil {
			return b.abort(err)
		}
	}

	if err := b.writer.Flush(); err != nil {
		return b.abort(err)
	}
	if err := b.file.Sync(); err != nil {
		return b.abort(err)
	}
	return b.file.Close()
}

func (b *Builder) abort(err error) error {
	_ = b.file.Close()
	return err
}
