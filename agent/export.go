package agent

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/papernet/papergw/cache"
)

// Exported cache entries live under this prefix in the state store, next to a
// version marker naming the payload that wrote them.
const (
	exportPrefix     = "cache:"
	exportVersionKey = "cache-version"
)

// ExportCache writes the live response cache to the state store so another
// process, or the next agent, can warm up from it.
func (a *Agent) ExportCache() (int, error) {
	batch := new(leveldb.Batch)
	count := 0

	var encErr error
	a.cache.ForEach(func(key uint64, e *cache.Entry) bool {
		data, err := cbor.Marshal(e)
		if err != nil {
			encErr = err
			return false
		}

		batch.Put([]byte(fmt.Sprintf("%s%016x", exportPrefix, key)), data)
		count++
		return true
	})
	if encErr != nil {
		return 0, encErr
	}

	batch.Put([]byte(exportVersionKey), []byte(a.payload.Digest))

	if err := a.db.Write(batch, nil); err != nil {
		return 0, err
	}

	return count, nil
}

// ImportCache restores exported entries, skipping any already expired.
func (a *Agent) ImportCache() (int, error) {
	ttl := a.cfg.CacheTTL.Duration
	now := time.Now()
	count := 0

	iter := a.db.NewIterator(util.BytesPrefix([]byte(exportPrefix)), nil)
	defer iter.Release()

	for iter.Next() {
		var e cache.Entry
		if err := cbor.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}

		if e.Expired(ttl, now) {
			continue
		}

		a.cache.Add(cache.Key(e.Domain, e.Path), &e)
		count++
	}

	return count, iter.Error()
}

// purgePriorVersions drops exported entries written by a different payload
// version. Part of activation, before any import.
func (a *Agent) purgePriorVersions() (int, error) {
	ver, err := a.db.Get([]byte(exportVersionKey), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	if string(ver) == a.payload.Digest {
		return 0, nil
	}

	batch := new(leveldb.Batch)
	count := 0

	iter := a.db.NewIterator(util.BytesPrefix([]byte(exportPrefix)), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
		count++
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, err
	}

	batch.Delete([]byte(exportVersionKey))

	if err := a.db.Write(batch, nil); err != nil {
		return 0, err
	}

	return count, nil
}
