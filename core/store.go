package core

// Content-addressed literal store (spec §4.1, §6). Adapted from
// core/storage.go's diskLRU on-disk cache: the same put/get-by-CID shape is
// reused here, generalised from caching fetched blobs to owning every
// persisted literal, plus the reference index and terminal-ops bookkeeping
// the sync agent depends on. DOMAIN STACK: github.com/hashicorp/golang-lru/v2
// gives the bounded hot-literal cache in front of the on-disk copy.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	logrus "github.com/sirupsen/logrus"
)

// targetField is the reference field every mutation op is indexed under —
// the only reference field the core itself understands (spec §6 "notably
// targetObject → ops").
const targetField = "target"

// ReferenceCallback is invoked for a newly persisted op whose reference
// field matches a watched hash. Delivery is at-least-once and, within a
// single Store instance, strictly in persistence order.
type ReferenceCallback func(opHash Hash)

// Broadcaster lets sibling processes sharing a backend observe the same
// store events exactly once per coordination group (spec §4.1,
// "multi-process safety"). NopBroadcaster is the single-process stand-in; a
// multi-process deployment plugs in one backed by a shared channel.
type Broadcaster interface {
	Publish(field string, hash, op Hash)
}

// NopBroadcaster performs no cross-process fan-out.
type NopBroadcaster struct{}

func (NopBroadcaster) Publish(string, Hash, Hash) {}

// Store persists literals, indexes them by reference, and tracks terminal
// ops per mutable object.
type Store interface {
	Save(lit *Literal) error
	Load(hash Hash) (HashedObject, error)
	LoadLiteral(hash Hash) (*Literal, bool)
	LoadTerminalOpsForMutable(hash Hash) (HashSet, bool)
	WatchReferences(field string, hash Hash, cb ReferenceCallback)
	Close() error
}

// DiskStore is the concrete Store: an on-disk literal-per-file layout
// fronted by a bounded in-memory cache, mirroring core/storage.go's
// diskLRU but keyed by literal hash rather than by blob CID.
type DiskStore struct {
	mu     sync.Mutex
	dir    string
	logger *logrus.Logger

	literals map[Hash]*Literal
	cache    *lru.Cache[Hash, *Literal]

	refIndex map[string]map[Hash][]Hash
	terminal map[Hash]HashSet
	watchers map[string]map[Hash][]ReferenceCallback

	broadcaster Broadcaster

	events chan func()
	done   chan struct{}
}

// NewDiskStore opens (creating if necessary) a literal store rooted at dir,
// rehydrating any literals already on disk from a previous run.
func NewDiskStore(dir string, cacheEntries int, logger *logrus.Logger, broadcaster Broadcaster) (*DiskStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	if cacheEntries <= 0 {
		cacheEntries = 10_000
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	cache, err := lru.New[Hash, *Literal](cacheEntries)
	if err != nil {
		return nil, fmt.Errorf("store: cache: %w", err)
	}
	s := &DiskStore{
		dir:      dir,
		logger:   logger,
		literals: make(map[Hash]*Literal),
		cache:    cache,
		refIndex: map[string]map[Hash][]Hash{targetField: {}},
		terminal: make(map[Hash]HashSet),
		watchers: make(map[string]map[Hash][]ReferenceCallback),
		broadcaster: broadcaster,
		events:   make(chan func(), 256),
		done:     make(chan struct{}),
	}
	if err := s.rehydrate(); err != nil {
		return nil, err
	}
	go s.drain()
	return s, nil
}

func (s *DiskStore) rehydrate() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("store: read %s: %w", s.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warnf("store: skip unreadable literal file %s: %v", e.Name(), err)
			continue
		}
		var lit Literal
		if err := json.Unmarshal(raw, &lit); err != nil {
			s.logger.Warnf("store: skip corrupt literal file %s: %v", e.Name(), err)
			continue
		}
		s.indexLocked(&lit)
	}
	return nil
}

func (s *DiskStore) drain() {
	for fn := range s.events {
		fn()
	}
	close(s.done)
}

// Close stops the notification dispatcher. Outstanding watch callbacks are
// still delivered before it returns.
func (s *DiskStore) Close() error {
	close(s.events)
	<-s.done
	return nil
}

func (s *DiskStore) diskPath(h Hash) string {
	return filepath.Join(s.dir, h.String())
}

// Save idempotently persists lit, enforcing the "prevOps already present"
// closed-world invariant for mutation-op literals (spec §3, §4.1).
func (s *DiskStore) Save(lit *Literal) error {
	if err := lit.Verify(false); err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.literals[lit.Hash]; exists {
		s.mu.Unlock()
		return nil
	}

	target, prevOps, isOp := mutationOpDeps(lit)
	if isOp {
		for _, p := range prevOps {
			if _, ok := s.literals[p]; !ok {
				s.mu.Unlock()
				return fmt.Errorf("%w: prevOp %s of %s not persisted", ErrMissingDependency, p.Short(), lit.Hash.Short())
			}
		}
	}

	raw, err := json.Marshal(lit)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("store: marshal literal: %w", err)
	}
	if err := os.WriteFile(s.diskPath(lit.Hash), raw, 0o644); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("store: write literal: %w", err)
	}

	s.indexLocked(lit)
	s.mu.Unlock()

	if isOp {
		s.notifyWatchers(targetField, target, lit.Hash)
		s.broadcaster.Publish(targetField, target, lit.Hash)
	}
	return nil
}

// indexLocked updates in-memory indices for a literal already known to be
// valid and new. Caller must hold s.mu.
func (s *DiskStore) indexLocked(lit *Literal) {
	s.literals[lit.Hash] = lit
	s.cache.Add(lit.Hash, lit)

	target, prevOps, isOp := mutationOpDeps(lit)
	if !isOp {
		return
	}
	set := s.terminal[target]
	if set == nil {
		set = NewHashSet()
		s.terminal[target] = set
	}
	set.Add(lit.Hash)
	for _, p := range prevOps {
		set.Remove(p)
	}
	s.refIndex[targetField][target] = append(s.refIndex[targetField][target], lit.Hash)
}

// mutationOpDeps reports whether lit looks like a mutation op literal
// (carries a "target" dependency) and, if so, its target and prevOps.
func mutationOpDeps(lit *Literal) (target Hash, prevOps []Hash, isOp bool) {
	for _, d := range lit.Dependencies {
		switch d.Path {
		case "target":
			target, isOp = d.Hash, true
		case "prevOps":
			prevOps = append(prevOps, d.Hash)
		}
	}
	return
}

// Load reconstructs the hashed object named by hash from its persisted
// literal, using the fixed mutation-op decode path for op literals and the
// class registry for everything else.
func (s *DiskStore) Load(hash Hash) (HashedObject, error) {
	lit, ok := s.LoadLiteral(hash)
	if !ok {
		return nil, fmt.Errorf("store: %s: %w", hash.Short(), ErrMissingDependency)
	}
	if _, _, isOp := mutationOpDeps(lit); isOp {
		return DecodeMutationOp(lit)
	}
	return DecodeClass(lit.ClassName, lit.Value, lit.Dependencies)
}

func (s *DiskStore) LoadLiteral(hash Hash) (*Literal, bool) {
	if lit, ok := s.cache.Get(hash); ok {
		return lit, true
	}
	s.mu.Lock()
	lit, ok := s.literals[hash]
	s.mu.Unlock()
	if ok {
		s.cache.Add(hash, lit)
	}
	return lit, ok
}

func (s *DiskStore) LoadTerminalOpsForMutable(hash Hash) (HashSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.terminal[hash]
	if !ok {
		return nil, false
	}
	return set.Clone(), true
}

// WatchReferences registers cb to fire for every future op persisted with
// (field, hash) as its reference. Only field "target" is produced by this
// store today; the parameter is kept for forward compatibility with
// additional reference fields.
func (s *DiskStore) WatchReferences(field string, hash Hash, cb ReferenceCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byHash, ok := s.watchers[field]
	if !ok {
		byHash = make(map[Hash][]ReferenceCallback)
		s.watchers[field] = byHash
	}
	byHash[hash] = append(byHash[hash], cb)
}

// notifyWatchers enqueues callback invocations onto the single dispatch
// worker, which preserves global (and therefore per-target) persistence
// order without holding s.mu while a callback runs.
func (s *DiskStore) notifyWatchers(field string, hash, op Hash) {
	s.mu.Lock()
	var cbs []ReferenceCallback
	if byHash, ok := s.watchers[field]; ok {
		cbs = append(cbs, byHash[hash]...)
	}
	s.mu.Unlock()
	for _, cb := range cbs {
		cb := cb
		s.events <- func() { cb(op) }
	}
}
