package storage

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// [CRC32 4B] [Timestamp 8B] [Op 1B] [PayloadSize 4B] [Payload NB]

const (
	HeaderSize = 4 + 8 + 1 + 4 // 17 Bytes

	WALSave   byte = 1
	WALDelete byte = 2
)

var ErrWALCorrupt = errors.New("wal: corrupted entry")

type WALEntry struct {
	Op      byte
	Time    time.Time
	Payload []byte
}

// WAL is an append-only log of mutations. Entries are flushed to the OS on every
// Append; Sync forces them to disk.
type WAL struct {
	file *os.File
	mu   sync.Mutex
	buf  *bufio.Writer
}

func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open wal")
	}

	return &WAL{
		file: f,
		buf:  bufio.NewWriter(f),
	}, nil
}

// Append writes the entries as one flush, so a committed batch is never split
// by a concurrent writer.
func (w *WAL) Append(entries ...WALEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	header := make([]byte, HeaderSize)
	for _, e := range entries {
		ts := e.Time
		if ts.IsZero() {
			ts = time.Now()
		}
		binary.LittleEndian.PutUint64(header[4:12], uint64(ts.UnixNano()))
		header[12] = e.Op
		binary.LittleEndian.PutUint32(header[13:17], uint32(len(e.Payload)))

		checksum := crc32.NewIEEE()
		checksum.Write(header[4:])
		checksum.Write(e.Payload)
		binary.LittleEndian.PutUint32(header[0:4], checksum.Sum32())

		if _, err := w.buf.Write(header); err != nil {
			return err
		}
		if _, err := w.buf.Write(e.Payload); err != nil {
			return err
		}
	}
	return w.buf.Flush()
}

func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ferr := w.buf.Flush()
	if err := w.file.Close(); err != nil {
		return err
	}
	return ferr
}

// Truncate empties the log, typically right after a checkpoint.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	path := w.file.Name()
	if err := w.file.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.file = f
	w.buf = bufio.NewWriter(f)
	return w.file.Sync()
}

func (w *WAL) Size() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return 0, err
	}
	st, err := w.file.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

type WALIterator struct {
	reader *bufio.Reader
	file   *os.File
}

func (w *WAL) NewIterator() (*WALIterator, error) {
	w.mu.Lock()
	name := w.file.Name()
	err := w.buf.Flush()
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return &WALIterator{
		file:   f,
		reader: bufio.NewReader(f),
	}, nil
}

// Next returns io.EOF at a clean end of log and ErrWALCorrupt for a torn or
// damaged entry.
func (it *WALIterator) Next() (WALEntry, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(it.reader, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return WALEntry{}, errors.Wrap(ErrWALCorrupt, "short header")
		}
		return WALEntry{}, err
	}

	storedCRC := binary.LittleEndian.Uint32(header[0:4])
	ts := int64(binary.LittleEndian.Uint64(header[4:12]))
	size := binary.LittleEndian.Uint32(header[13:17])
	if size > MaxWALPayload {
		return WALEntry{}, errors.Wrapf(ErrWALCorrupt, "payload of %d bytes", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(it.reader, payload); err != nil {
		return WALEntry{}, errors.Wrap(ErrWALCorrupt, "short payload")
	}

	checksum := crc32.NewIEEE()
	checksum.Write(header[4:])
	checksum.Write(payload)
	if checksum.Sum32() != storedCRC {
		return WALEntry{}, errors.Wrap(ErrWALCorrupt, "crc mismatch")
	}

	return WALEntry{Op: header[12], Time: time.Unix(0, ts), Payload: payload}, nil
}

func (it *WALIterator) Close() error {
	return it.file.Close()
}

// MaxWALPayload bounds a single entry so a damaged size field cannot trigger a
// huge allocation.
const MaxWALPayload = 16 << 20
