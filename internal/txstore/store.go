// Package txstore implements C3: the in-memory transaction store.
// Capacity is set per store (DefaultCapacity, 10,000 entries, when
// none is given) with LRU eviction on insert,
// grounded in the teacher's captureStore (src/captures.go) generalized
// from a fixed circular buffer to an eviction-ordered map so lookups by
// GID stay O(1) as the spec requires.
package txstore

import (
	"container/list"
	"sync"

	"github.com/ezshark/ezshark-go/internal/model"
)

// DefaultCapacity is the maximum number of transactions retained.
const DefaultCapacity = 10_000

// Store is a GID-indexed, capacity-bounded, LRU-evicting collection of
// transactions. All methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	capacity int
	nextGID  uint64

	byGID map[uint64]*entry
	order *list.List // front = most recently touched, back = eviction candidate
}

type entry struct {
	tx  *model.Transaction
	elt *list.Element
}

// New builds a Store bounded at capacity entries.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		nextGID:  1,
		byGID:    make(map[uint64]*entry),
		order:    list.New(),
	}
}

// Insert assigns tx the next GID, stores it, and evicts the least
// recently touched entry if capacity is exceeded. Returns the assigned
// GID.
func (s *Store) Insert(tx *model.Transaction) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	gid := s.nextGID
	s.nextGID++
	tx.GID = gid

	elt := s.order.PushFront(gid)
	s.byGID[gid] = &entry{tx: tx, elt: elt}

	if len(s.byGID) > s.capacity {
		s.evictOldestLocked()
	}
	return gid
}

func (s *Store) evictOldestLocked() {
	back := s.order.Back()
	if back == nil {
		return
	}
	gid := back.Value.(uint64)
	s.order.Remove(back)
	delete(s.byGID, gid)
}

// Get returns the transaction with gid, touching its LRU position.
func (s *Store) Get(gid uint64) (*model.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byGID[gid]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(e.elt)
	return e.tx, true
}

// Remove deletes the transaction with gid, reporting whether it existed.
func (s *Store) Remove(gid uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byGID[gid]
	if !ok {
		return false
	}
	s.order.Remove(e.elt)
	delete(s.byGID, gid)
	return true
}

// Clear discards every stored transaction.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byGID = make(map[uint64]*entry)
	s.order = list.New()
}

// Len returns the number of stored transactions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byGID)
}

// All returns every transaction, oldest-touched first.
func (s *Store) All() []*model.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Transaction, 0, len(s.byGID))
	for e := s.order.Back(); e != nil; e = e.Prev() {
		out = append(out, s.byGID[e.Value.(uint64)].tx)
	}
	return out
}

// BySession returns every transaction belonging to sessionID,
// oldest-touched first.
func (s *Store) BySession(sessionID string) []*model.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Transaction, 0)
	for e := s.order.Back(); e != nil; e = e.Prev() {
		tx := s.byGID[e.Value.(uint64)].tx
		if tx.SessionID == sessionID {
			out = append(out, tx)
		}
	}
	return out
}

// MigrateFrom absorbs every transaction from prior into s, preserving
// GIDs and skipping the per-insert GID counter. Used when the engine
// restarts on a new listen port but the operator wants prior history
// retained, mirroring the teacher's populateFromSlice load-on-restart
// behavior generalized to the map-backed store.
func (s *Store) MigrateFrom(prior *Store) {
	txs := prior.All()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		gid := tx.GID
		elt := s.order.PushFront(gid)
		s.byGID[gid] = &entry{tx: tx, elt: elt}
		if gid >= s.nextGID {
			s.nextGID = gid + 1
		}
	}
	for len(s.byGID) > s.capacity {
		s.evictOldestLocked()
	}
}
