// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

// collSep separates a collection name from its key when both are packed
// into a single pebble key; 0x00 cannot occur in a Collection constant, so
// collections never collide and a collection's keys always sort together.
const collSep = 0x00

// PebbleKV is a disk-resident KV backed by github.com/cockroachdb/pebble,
// used by long-lived agents that need their index/CAS/relay state to
// survive a restart.
type PebbleKV struct {
	db *pebble.DB
}

// OpenPebbleKV opens (creating if absent) a pebble store rooted at dir.
func OpenPebbleKV(dir string) (*PebbleKV, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "store: opening pebble db at %q", dir)
	}
	return &PebbleKV{db: db}, nil
}

func pebbleKey(coll Collection, key []byte) []byte {
	out := make([]byte, 0, len(coll)+1+len(key))
	out = append(out, coll...)
	out = append(out, collSep)
	out = append(out, key...)
	return out
}

func (p *PebbleKV) Get(coll Collection, key []byte) ([]byte, error) {
	v, closer, err := p.db.Get(pebbleKey(coll, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: pebble get")
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, closer.Close()
}

func (p *PebbleKV) Put(coll Collection, key, value []byte) error {
	if err := p.db.Set(pebbleKey(coll, key), value, pebble.Sync); err != nil {
		return errors.Wrap(err, "store: pebble set")
	}
	return nil
}

func (p *PebbleKV) Delete(coll Collection, key []byte) error {
	if err := p.db.Delete(pebbleKey(coll, key), pebble.Sync); err != nil {
		return errors.Wrap(err, "store: pebble delete")
	}
	return nil
}

func (p *PebbleKV) Has(coll Collection, key []byte) (bool, error) {
	_, closer, err := p.db.Get(pebbleKey(coll, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "store: pebble get")
	}
	return true, closer.Close()
}

func (p *PebbleKV) Iterate(coll Collection, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	lowerBound := pebbleKey(coll, prefix)
	upperBound := collectionUpperBound(coll)

	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: lowerBound,
		UpperBound: upperBound,
	})
	if err != nil {
		return errors.Wrap(err, "store: pebble new iter")
	}
	defer it.Close()

	prefixedKey := pebbleKey(coll, prefix)
	for it.First(); it.Valid(); it.Next() {
		if !bytes.HasPrefix(it.Key(), prefixedKey) {
			break
		}
		key := it.Key()[len(coll)+1:]
		val := it.Value()
		keyCopy := append([]byte(nil), key...)
		valCopy := append([]byte(nil), val...)
		more, err := fn(keyCopy, valCopy)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return it.Error()
}

// collectionUpperBound returns the exclusive upper bound of every key in
// coll: the collection name with its separator byte incremented.
func collectionUpperBound(coll Collection) []byte {
	out := []byte(string(coll))
	out = append(out, collSep+1)
	return out
}

func (p *PebbleKV) Batch() Batch {
	return &pebbleBatch{pb: p.db.NewBatch()}
}

func (p *PebbleKV) Close() error {
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("store: closing pebble db: %w", err)
	}
	return nil
}

type pebbleBatch struct {
	pb *pebble.Batch
}

func (b *pebbleBatch) Put(coll Collection, key, value []byte) {
	_ = b.pb.Set(pebbleKey(coll, key), value, nil)
}

func (b *pebbleBatch) Delete(coll Collection, key []byte) {
	_ = b.pb.Delete(pebbleKey(coll, key), nil)
}

func (b *pebbleBatch) Commit() error {
	if err := b.pb.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "store: pebble batch commit")
	}
	return nil
}
