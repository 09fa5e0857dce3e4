package store

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

type docKey struct {
	collection string
	id         string
}

type memDoc struct {
	raw     bson.Raw
	version uint64
}

type memCollection struct {
	docs  map[string]*memDoc
	order []string
}

// Memory is an in-process Store. Transactions are optimistic: each one records
// the version of every document it reads, and commit fails if any of them
// changed in the meantime, in which case the callback is run again. An error
// from the callback is returned only if everything it read was still current.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	maxRetries  int
}

// NewMemory creates an empty store. maxRetries <= 0 selects the default.
func NewMemory(maxRetries int) *Memory {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Memory{
		collections: make(map[string]*memCollection),
		maxRetries:  maxRetries,
	}
}

func (m *Memory) lookup(key docKey) (bson.Raw, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[key.collection]
	if !ok {
		return nil, 0
	}
	d, ok := c.docs[key.id]
	if !ok {
		return nil, 0
	}
	return d.raw, d.version
}

// setLocked stores raw under key and bumps its version. m.mu must be held.
func (m *Memory) setLocked(key docKey, raw bson.Raw) {
	c, ok := m.collections[key.collection]
	if !ok {
		c = &memCollection{docs: make(map[string]*memDoc)}
		m.collections[key.collection] = c
	}
	d, ok := c.docs[key.id]
	if !ok {
		d = &memDoc{}
		c.docs[key.id] = d
		c.order = append(c.order, key.id)
	}
	d.raw = raw
	d.version++
}

func (m *Memory) versionLocked(key docKey) uint64 {
	c, ok := m.collections[key.collection]
	if !ok {
		return 0
	}
	if d, ok := c.docs[key.id]; ok {
		return d.version
	}
	return 0
}

func (m *Memory) Get(ctx context.Context, collection, id string, out any) error {
	raw, _ := m.lookup(docKey{collection, id})
	if raw == nil {
		return ErrNotFound
	}
	return bson.Unmarshal(raw, out)
}

func (m *Memory) Put(ctx context.Context, collection, id string, doc any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(docKey{collection, id}, raw)
	return nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, fields bson.M) error {
	key := docKey{collection, id}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return ErrNotFound
	}
	d, ok := c.docs[id]
	if !ok {
		return ErrNotFound
	}
	raw, err := applyFields(d.raw, fields)
	if err != nil {
		return err
	}
	m.setLocked(key, raw)
	return nil
}

func (m *Memory) Find(ctx context.Context, collection string, filter bson.M, out any) error {
	m.mu.RLock()
	var raws []bson.Raw
	if c, ok := m.collections[collection]; ok {
		raws = make([]bson.Raw, 0, len(c.order))
		for _, id := range c.order {
			raws = append(raws, c.docs[id].raw)
		}
	}
	m.mu.RUnlock()
	return decodeAll(raws, filter, out)
}

func (m *Memory) Transaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memTx{
			m:      m,
			reads:  make(map[docKey]uint64),
			writes: make(map[docKey]bson.Raw),
		}
		if err := fn(ctx, tx); err != nil {
			// An abort decided on a stale view is retried like a failed commit.
			if m.current(tx) {
				return err
			}
			continue
		}
		if m.commit(tx) {
			return nil
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrTransactionConflict, m.maxRetries+1)
}

// current reports whether every document tx read is still at the version it saw.
func (m *Memory) current(tx *memTx) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentLocked(tx)
}

func (m *Memory) currentLocked(tx *memTx) bool {
	for key, seen := range tx.reads {
		if m.versionLocked(key) != seen {
			return false
		}
	}
	return true
}

func (m *Memory) commit(tx *memTx) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.currentLocked(tx) {
		return false
	}
	for _, key := range tx.order {
		m.setLocked(key, tx.writes[key])
	}
	return true
}

func (m *Memory) Close(ctx context.Context) error { return nil }

// memTx buffers writes until commit. Reads see the transaction's own writes.
type memTx struct {
	m      *Memory
	reads  map[docKey]uint64
	writes map[docKey]bson.Raw
	order  []docKey
}

func (t *memTx) read(key docKey) bson.Raw {
	if raw, ok := t.writes[key]; ok {
		return raw
	}
	raw, version := t.m.lookup(key)
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = version
	}
	return raw
}

func (t *memTx) stage(key docKey, raw bson.Raw) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = raw
}

func (t *memTx) Get(ctx context.Context, collection, id string, out any) error {
	raw := t.read(docKey{collection, id})
	if raw == nil {
		return ErrNotFound
	}
	return bson.Unmarshal(raw, out)
}

func (t *memTx) Put(ctx context.Context, collection, id string, doc any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	t.stage(docKey{collection, id}, raw)
	return nil
}

func (t *memTx) Update(ctx context.Context, collection, id string, fields bson.M) error {
	key := docKey{collection, id}
	raw := t.read(key)
	if raw == nil {
		return ErrNotFound
	}
	updated, err := applyFields(raw, fields)
	if err != nil {
		return err
	}
	t.stage(key, updated)
	return nil
}
