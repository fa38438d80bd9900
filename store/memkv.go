// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"sort"
	"sync"
)

// MemKV is an in-process, map-backed KV. It is meant for tests and
// single-run CLI invocations that do not need durability across process
// restarts.
type MemKV struct {
	mu   sync.RWMutex
	data map[Collection]map[string][]byte
}

// NewMemKV returns an empty in-memory store.
func NewMemKV() *MemKV {
	return &MemKV{data: make(map[Collection]map[string][]byte)}
}

func (m *MemKV) coll(c Collection) map[string][]byte {
	b, ok := m.data[c]
	if !ok {
		b = make(map[string][]byte)
		m.data[c] = b
	}
	return b
}

func (m *MemKV) Get(coll Collection, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[coll][string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemKV) Put(coll Collection, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.coll(coll)[string(key)] = v
	return nil
}

func (m *MemKV) Delete(coll Collection, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.coll(coll), string(key))
	return nil
}

func (m *MemKV) Has(coll Collection, key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[coll][string(key)]
	return ok, nil
}

func (m *MemKV) Iterate(coll Collection, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	m.mu.RLock()
	b := m.data[coll]
	keys := make([]string, 0, len(b))
	for k := range b {
		if hasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	type kv struct {
		k string
		v []byte
	}
	snapshot := make([]kv, 0, len(keys))
	for _, k := range keys {
		v := make([]byte, len(b[k]))
		copy(v, b[k])
		snapshot = append(snapshot, kv{k, v})
	}
	m.mu.RUnlock()

	for _, e := range snapshot {
		more, err := fn([]byte(e.k), e.v)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func hasPrefix(k string, prefix []byte) bool {
	if len(prefix) == 0 {
		return true
	}
	if len(k) < len(prefix) {
		return false
	}
	return k[:len(prefix)] == string(prefix)
}

func (m *MemKV) Batch() Batch {
	return &memBatch{kv: m}
}

func (m *MemKV) Close() error { return nil }

type memOp struct {
	coll   Collection
	key    []byte
	value  []byte
	delete bool
}

type memBatch struct {
	kv  *MemKV
	ops []memOp
}

func (b *memBatch) Put(coll Collection, key, value []byte) {
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	b.ops = append(b.ops, memOp{coll: coll, key: k, value: v})
}

func (b *memBatch) Delete(coll Collection, key []byte) {
	k := append([]byte(nil), key...)
	b.ops = append(b.ops, memOp{coll: coll, key: k, delete: true})
}

func (b *memBatch) Commit() error {
	b.kv.mu.Lock()
	defer b.kv.mu.Unlock()
	for _, op := range b.ops {
		if op.delete {
			delete(b.kv.coll(op.coll), string(op.key))
			continue
		}
		b.kv.coll(op.coll)[string(op.key)] = op.value
	}
	return nil
}
