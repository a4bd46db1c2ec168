package depstore

import (
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	leveldberrors "github.com/syndtr/goleveldb/leveldb/errors"
)

// dbmBackend is a github.com/syndtr/goleveldb-backed Backend: one leveldb
// key per task name, its value a JSON-encoded flat string/string record.
// This mirrors doit's DbmDB, which stores one dbm entry per task name
// because flat dbm implementations have no notion of nested records;
// goleveldb is a plain ordered byte-string store with the same shape, so
// the same one-blob-per-task layout applies. Writes are batched in memory
// and flushed on Close, matching DbmDB's dirty-set-then-writeback instead
// of a write-through dbm.Set per key.
type dbmBackend struct {
	db    *leveldb.DB
	cache map[string]map[string]string
	dirty map[string]bool
	gone  map[string]bool // explicitly removed since open
}

// OpenDBM opens (or creates) a goleveldb database at dir as a Backend.
func OpenDBM(dir string) (Backend, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		// Mirrors dependency.py's DbmDB.DBM_CONTENT_ERROR_MSG recovery: an
		// unrecognised/legacy-format store tells the user how to fix it;
		// any other open failure (permissions, lock held, ...) is
		// surfaced verbatim.
		if leveldberrors.IsCorrupted(err) {
			return nil, fmt.Errorf(
				"dependencies file %q seems to use an old format or is corrupted; "+
					"remove the database file and a new one will be generated: %w",
				dir, err)
		}
		return nil, err
	}
	return &dbmBackend{
		db:    db,
		cache: map[string]map[string]string{},
		dirty: map[string]bool{},
		gone:  map[string]bool{},
	}, nil
}

func (d *dbmBackend) load(taskName string) map[string]string {
	if rec, ok := d.cache[taskName]; ok {
		return rec
	}
	if d.gone[taskName] {
		rec := map[string]string{}
		d.cache[taskName] = rec
		return rec
	}
	raw, err := d.db.Get([]byte(taskName), nil)
	rec := map[string]string{}
	if err == nil {
		// A corrupted record is treated as absent rather than propagated,
		// matching DbmDB's DBM_CONTENT_ERROR_MSG recovery: lose that
		// task's history, keep the run going.
		_ = json.Unmarshal(raw, &rec)
	}
	d.cache[taskName] = rec
	return rec
}

func (d *dbmBackend) Get(taskName, key string) (string, bool) {
	rec := d.load(taskName)
	v, ok := rec[key]
	return v, ok
}

func (d *dbmBackend) Set(taskName, key, value string) {
	rec := d.load(taskName)
	rec[key] = value
	d.dirty[taskName] = true
	delete(d.gone, taskName)
}

func (d *dbmBackend) Has(taskName string) bool {
	rec := d.load(taskName)
	return len(rec) > 0
}

func (d *dbmBackend) Remove(taskName string) {
	delete(d.cache, taskName)
	delete(d.dirty, taskName)
	d.gone[taskName] = true
}

func (d *dbmBackend) RemoveAll() {
	iter := d.db.NewIterator(nil, nil)
	for iter.Next() {
		d.gone[string(iter.Key())] = true
	}
	iter.Release()
	d.cache = map[string]map[string]string{}
	d.dirty = map[string]bool{}
}

func (d *dbmBackend) Close() error {
	batch := new(leveldb.Batch)
	for taskName := range d.dirty {
		rec := d.cache[taskName]
		enc, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		batch.Put([]byte(taskName), enc)
	}
	for taskName := range d.gone {
		if !d.dirty[taskName] {
			batch.Delete([]byte(taskName))
		}
	}
	if err := d.db.Write(batch, nil); err != nil {
		d.db.Close()
		return err
	}
	return d.db.Close()
}
