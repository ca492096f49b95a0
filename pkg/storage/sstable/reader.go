package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
)

var ErrCorrupt = errors.New("sstable: corrupted file")

// maxEntrySize guards allocations against a damaged length field.
const maxEntrySize = 64 << 20

type SSTable struct {
	file         *os.File
	count        int64
	indexStart   int64
	indexKeys    [][]byte
	indexOffsets []int64
}

func Open(filename string) (*SSTable, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	t, err := load(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return t, nil
}

func load(f *os.File) (*SSTable, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size < FooterSize {
		return nil, errors.Wrap(ErrCorrupt, "file too small")
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, size-FooterSize); err != nil {
		return nil, err
	}
	count := int64(binary.LittleEndian.Uint64(footer[0:8]))
	indexStart := int64(binary.LittleEndian.Uint64(footer[8:16]))
	if magic := binary.LittleEndian.Uint64(footer[16:24]); magic != MagicNumber {
		return nil, errors.Wrap(ErrCorrupt, "invalid magic number")
	}
	if indexStart < 0 || indexStart > size-FooterSize {
		return nil, errors.Wrap(ErrCorrupt, "index offset out of range")
	}

	r := bufio.NewReader(io.NewSectionReader(f, indexStart, size-FooterSize-indexStart))
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, errors.Wrap(ErrCorrupt, "index header")
	}
	keys := make([][]byte, 0, n)
	offsets := make([]int64, 0, n)
	for i := 0; i < int(n); i++ {
		k, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		var off int64
		if err := binary.Read(r, binary.LittleEndian, &off); err != nil {
			return nil, errors.Wrap(ErrCorrupt, "index entry")
		}
		keys = append(keys, k)
		offsets = append(offsets, off)
	}

	return &SSTable{
		file:         f,
		count:        count,
		indexStart:   indexStart,
		indexKeys:    keys,
		indexOffsets: offsets,
	}, nil
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n > maxEntrySize {
		return nil, errors.Wrapf(ErrCorrupt, "entry of %d bytes", n)
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(r, p); err != nil {
		return nil, errors.Wrap(ErrCorrupt, "short entry")
	}
	return p, nil
}

// Len returns the number of entries.
func (t *SSTable) Len() int64 { return t.count }

// Get seeks to the sparse index block that may hold key and scans it.
func (t *SSTable) Get(key []byte) ([]byte, bool, error) {
	idx := sort.Search(len(t.indexKeys), func(i int) bool {
		return bytes.Compare(t.indexKeys[i], key) > 0
	})
	startIdx := idx - 1
	if startIdx < 0 {
		return nil, false, nil
	}

	it := t.iteratorAt(t.indexOffsets[startIdx])
	for it.Next() {
		switch c := bytes.Compare(it.Key(), key); {
		case c == 0:
			return it.Value(), true, nil
		case c > 0:
			return nil, false, nil
		}
	}
	return nil, false, it.Err()
}

// Iterator walks every entry in key order.
func (t *SSTable) Iterator() *Iterator {
	return t.iteratorAt(0)
}

func (t *SSTable) iteratorAt(offset int64) *Iterator {
	return &Iterator{r: bufio.NewReader(io.NewSectionReader(t.file, offset, t.indexStart-offset))}
}

func (t *SSTable) Close() error {
	return t.file.Close()
}

type Iterator struct {
	r   *bufio.Reader
	key []byte
	val []byte
	err error
}

func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	k, err := readBytes(it.r)
	if err != nil {
		if err != io.EOF {
			it.err = err
		}
		return false
	}
	v, err := readBytes(it.r)
	if err != nil {
		if err == io.EOF {
			err = errors.Wrap(ErrCorrupt, "key without value")
		}
		it.err = err
		return false
	}
	it.key, it.val = k, v
	return true
}

func (it *Iterator) Key() []byte   { return it.key }
func (it *Iterator) Value() []byte { return it.val }
func (it *Iterator) Err() error    { return it.err }
