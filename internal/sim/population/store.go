// Package population is the reference population authority: per-archetype
// pools, caps, a global cap, and release notifications.
package population

import (
	"context"
	"sort"
	"sync"
	"time"

	"wavedirector.ai/internal/sim/spawn"
)

type Entity struct {
	id     uint64
	tags   spawn.Tags
	pos    spawn.Point
	bornMs int64
}

func (e *Entity) ID() uint64            { return e.id }
func (e *Entity) Tags() spawn.Tags      { return e.tags }
func (e *Entity) Position() spawn.Point { return e.pos }
func (e *Entity) BornMs() int64         { return e.bornMs }

type Options struct {
	// TTL releases entities older than this on Reap. Zero keeps them forever.
	TTL   time.Duration
	Clock func() time.Time
}

// Store is safe for concurrent use. Release callbacks run outside the lock.
type Store struct {
	mu       sync.Mutex
	opts     Options
	nextID   uint64
	pools    map[string]*pool
	max      map[string]int
	totalMax int
	count    map[string]int
	live     map[uint64]*Entity

	nextSub int
	subs    map[int]func(spawn.Release)
}

// New creates a store with a pool for each archetype. Archetypes without a
// pool cannot be spawned.
func New(archetypes []string, opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	s := &Store{
		opts:  opts,
		pools: map[string]*pool{},
		max:   map[string]int{},
		count: map[string]int{},
		live:  map[uint64]*Entity{},
		subs:  map[int]func(spawn.Release){},
	}
	for _, a := range archetypes {
		s.pools[a] = &pool{store: s, archetype: a}
	}
	return s
}

// AddPool registers an archetype after construction, e.g. after a policy reload.
func (s *Store) AddPool(archetype string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[archetype]; !ok {
		s.pools[archetype] = &pool{store: s, archetype: archetype}
	}
}

func (s *Store) CanSpawn(archetype string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canSpawnLocked(archetype)
}

func (s *Store) canSpawnLocked(archetype string) bool {
	if _, ok := s.pools[archetype]; !ok {
		return false
	}
	if s.totalMax > 0 && len(s.live) >= s.totalMax {
		return false
	}
	if m, ok := s.max[archetype]; ok && s.count[archetype] >= m {
		return false
	}
	return true
}

// SetMax caps an archetype. A negative n removes the cap.
func (s *Store) SetMax(archetype string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		delete(s.max, archetype)
		return
	}
	s.max[archetype] = n
}

// SetTotalMax caps all live entities. Zero or less means unlimited.
func (s *Store) SetTotalMax(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		n = 0
	}
	s.totalMax = n
}

func (s *Store) Max(archetype string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.max[archetype]
	return m, ok
}

func (s *Store) Pool(archetype string) spawn.Pool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[archetype]
	if !ok {
		return nil
	}
	return p
}

func (s *Store) Subscribe(fn func(spawn.Release)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) Count(archetype string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count[archetype]
}

func (s *Store) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Counts returns live counts per archetype.
func (s *Store) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.count))
	for k, v := range s.count {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

// Release frees one entity and notifies subscribers. Unknown ids are ignored so
// a double release never double-decrements.
func (s *Store) Release(id uint64) bool {
	s.mu.Lock()
	e, ok := s.live[id]
	if ok {
		s.removeLocked(e)
	}
	subs := s.subscribersLocked()
	s.mu.Unlock()
	if !ok {
		return false
	}
	notify(subs, e)
	return true
}

// Reap releases every entity that outlived the TTL and returns how many.
func (s *Store) Reap() int {
	if s.opts.TTL <= 0 {
		return 0
	}
	now := s.opts.Clock().UnixMilli()
	ttl := s.opts.TTL.Milliseconds()

	s.mu.Lock()
	var expired []*Entity
	for _, e := range s.live {
		if now-e.bornMs >= ttl {
			expired = append(expired, e)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].id < expired[j].id })
	for _, e := range expired {
		s.removeLocked(e)
	}
	subs := s.subscribersLocked()
	s.mu.Unlock()

	for _, e := range expired {
		notify(subs, e)
	}
	return len(expired)
}

// RunReaper calls Reap every interval until ctx is done.
func (s *Store) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.opts.TTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reap()
		}
	}
}

// Clear releases everything, notifying subscribers.
func (s *Store) Clear() int {
	s.mu.Lock()
	all := make([]*Entity, 0, len(s.live))
	for _, e := range s.live {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].id < all[j].id })
	for _, e := range all {
		s.removeLocked(e)
	}
	subs := s.subscribersLocked()
	s.mu.Unlock()
	for _, e := range all {
		notify(subs, e)
	}
	return len(all)
}

func (s *Store) removeLocked(e *Entity) {
	delete(s.live, e.id)
	if s.count[e.tags.Archetype] > 0 {
		s.count[e.tags.Archetype]--
	}
}

func (s *Store) subscribersLocked() []func(spawn.Release) {
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(spawn.Release), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subs[id])
	}
	return out
}

func notify(subs []func(spawn.Release), e *Entity) {
	for _, fn := range subs {
		fn(spawn.Release{Entity: e})
	}
}

type pool struct {
	store     *Store
	archetype string
}

// Get allocates an entity if the caps allow it. The archetype tag is forced to
// the pool's archetype.
func (p *pool) Get(x, y float64, tags spawn.Tags) (spawn.Entity, bool) {
	s := p.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canSpawnLocked(p.archetype) {
		return nil, false
	}
	tags.Archetype = p.archetype
	s.nextID++
	e := &Entity{
		id:     s.nextID,
		tags:   tags,
		pos:    spawn.Point{X: x, Y: y},
		bornMs: s.opts.Clock().UnixMilli(),
	}
	s.live[e.id] = e
	s.count[p.archetype]++
	return e, true
}
