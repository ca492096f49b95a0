package memory

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"

	"listdb/pkg/common"
	"listdb/pkg/logger"
	"listdb/pkg/storage"
	"listdb/pkg/storage/sstable"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// OpenDurable returns a MemTable that survives restarts. The rows are restored
// from <dir>/<name>.sst, the last checkpoint, and then from the mutations
// journaled in <dir>/<name>.wal after it. Close checkpoints and releases the log.
func OpenDurable(dir, name string, fields common.FieldList, degree int) (*MemTable, error) {
	mt, err := NewMemTable(name, fields, degree)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create table dir")
	}
	mt.dir = dir
	log := logger.Component("memory").WithField("table", name)

	loaded, err := mt.loadCheckpoint()
	if err != nil {
		return nil, err
	}

	w, err := storage.OpenWAL(mt.path(".wal"))
	if err != nil {
		return nil, err
	}
	replayed, err := mt.replay(w)
	if errors.Is(err, storage.ErrWALCorrupt) {
		// everything before the damaged entry is applied
		log.WithError(err).Warn("wal tail discarded")
		err = nil
	}
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	mt.wal = w

	log.WithFields(logrus.Fields{
		"checkpoint": loaded,
		"replayed":   replayed,
		"rows":       mt.tree.Len(),
	}).Info("table restored")
	return mt, nil
}

func (mt *MemTable) path(ext string) string {
	return filepath.Join(mt.dir, mt.name+ext)
}

func (mt *MemTable) loadCheckpoint() (int, error) {
	tbl, err := sstable.Open(mt.path(".sst"))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "open checkpoint")
	}
	defer tbl.Close()

	n := 0
	it := tbl.Iterator()
	for it.Next() {
		r, err := mt.decode(it.Value())
		if err != nil {
			return n, err
		}
		key, err := mt.keyOf(r.PrimaryKey())
		if err != nil {
			return n, err
		}
		mt.put(key, r)
		n++
	}
	return n, errors.Wrap(it.Err(), "read checkpoint")
}

func (mt *MemTable) replay(w *storage.WAL) (int, error) {
	it, err := w.NewIterator()
	if err != nil {
		return 0, err
	}
	defer it.Close()

	n := 0
	for {
		e, err := it.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		r, err := mt.decode(e.Payload)
		if err != nil {
			return n, err
		}
		key, err := mt.keyOf(r.PrimaryKey())
		if err != nil {
			return n, err
		}
		switch e.Op {
		case storage.WALSave:
			mt.put(key, r)
		case storage.WALDelete:
			mt.tree.Delete(Item{Key: key})
		default:
			return n, errors.Wrapf(storage.ErrWALCorrupt, "unknown op %d", e.Op)
		}
		n++
	}
}

// journal logs a mutation ahead of applying it. Inside a transaction the entry
// waits for Commit. Callers hold the write lock.
func (mt *MemTable) journal(op byte, r *common.Record) error {
	if mt.wal == nil {
		return nil
	}
	payload, err := mt.encode(r)
	if err != nil {
		return err
	}
	e := storage.WALEntry{Op: op, Payload: payload}
	if mt.snapshot != nil {
		mt.pending = append(mt.pending, e)
		return nil
	}
	return errors.Wrap(mt.wal.Append(e), "journal")
}

// keyRecord is a row of the table's own schema carrying only key.
func (mt *MemTable) keyRecord(key common.OrderKey) *common.Record {
	values := make([]common.Value, len(mt.fields))
	for i, f := range mt.fields {
		values[i] = common.Null(f.Kind)
	}
	for i, seg := range mt.keys {
		values[mt.fields.Index(seg.Field.Alias)] = key[i].Value
	}
	r, _ := common.NewRecordOf(mt.fields, values)
	return r
}

// encode renders the record as its values' text in field order; nil is null.
func (mt *MemTable) encode(r *common.Record) ([]byte, error) {
	values := r.Values()
	out := make([]*string, len(values))
	for i, v := range values {
		if !v.IsNull() {
			s := v.String()
			out[i] = &s
		}
	}
	return msgpack.Marshal(out)
}

func (mt *MemTable) decode(payload []byte) (*common.Record, error) {
	var texts []*string
	if err := msgpack.Unmarshal(payload, &texts); err != nil {
		return nil, errors.Wrap(err, "decode row")
	}
	if len(texts) != len(mt.fields) {
		return nil, errors.Wrapf(common.ErrArityMismatch, "%d values for %d fields", len(texts), len(mt.fields))
	}
	values := make([]common.Value, len(texts))
	for i, t := range texts {
		kind := mt.fields[i].Kind
		if t == nil {
			values[i] = common.Null(kind)
			continue
		}
		v, err := common.ParseValue(kind, *t)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return common.NewRecordOf(mt.fields, values)
}

// Checkpoint writes every row to a fresh snapshot file and empties the log.
func (mt *MemTable) Checkpoint() error {
	if mt.wal == nil {
		return nil
	}
	mt.lock.Lock()
	defer mt.lock.Unlock()
	if mt.snapshot != nil {
		return storage.ErrTransactionActive
	}

	type entry struct{ key, val []byte }
	entries := make([]entry, 0, mt.tree.Len())
	var err error
	mt.tree.Ascend(func(it Item) bool {
		var val []byte
		if val, err = mt.encode(it.Rec); err != nil {
			return false
		}
		entries = append(entries, entry{encodeKey(it.Key), val})
		return true
	})
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].key, entries[j].key) < 0 })

	tmp := mt.path(".sst.tmp")
	b, err := sstable.NewBuilder(tmp)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := b.Add(e.key, e.val); err != nil {
			_ = b.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := b.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, mt.path(".sst")); err != nil {
		return errors.Wrap(err, "install checkpoint")
	}
	return mt.wal.Truncate()
}

// Close checkpoints a durable table and closes its log. It is a no-op for a
// volatile one.
func (mt *MemTable) Close() error {
	if mt.wal == nil {
		return nil
	}
	cerr := mt.Checkpoint()
	mt.lock.Lock()
	defer mt.lock.Unlock()
	err := mt.wal.Close()
	mt.wal = nil
	if cerr != nil {
		return cerr
	}
	return err
}
