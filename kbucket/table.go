// Package kbucket implements the Kademlia-style routing table: a fixed
// array of k-buckets keyed on the XOR distance to the local node,
// expressed with the same container/list + sync.RWMutex shape the teacher
// uses in skademlia/dht/routes.go.
package kbucket

import (
	"container/list"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/razor7877/kademliatransfer/nodeid"
	"github.com/razor7877/kademliatransfer/peer"
)

// DefaultBucketSize is the recommended replication factor K. Tests may
// construct a Table with WithBucketSize(2) to stress bucket-full
// conditions, per spec.md's "K ∈ [2, 20]" contract.
const DefaultBucketSize = 4

// ErrBucketFull is returned by Observe when the target bucket already
// holds BucketSize peers and the new peer is therefore dropped.
var ErrBucketFull = errors.New("kbucket: bucket is full, peer dropped")

// ErrSelf is returned by Observe when asked to insert the local node.
var ErrSelf = errors.New("kbucket: refusing to add self to routing table")

// Options configures a Table.
type Options struct {
	BucketSize int
}

var defaultOptions = Options{BucketSize: DefaultBucketSize}

// Option mutates Options, following the teacher's functional-options shape
// from skademlia/dht/routes.go's RoutingTableOption.
type Option func(*Options)

// WithBucketSize overrides the per-bucket replication factor K.
func WithBucketSize(k int) Option {
	return func(o *Options) { o.BucketSize = k }
}

type bucket struct {
	list  *list.List
	mutex sync.RWMutex
}

func newBucket() *bucket {
	return &bucket{list: list.New()}
}

// Table is the routing table belonging to a single local node.
//
// The number of buckets is 8 * len(self.ID), matching
// skademlia/dht/routes.go's "make([]*Bucket, len(id.Id)*8)" sizing rule.
// Production nodes use the 32-byte nodeid.ID (256 buckets); tests may seed
// a Table with a shortened ID to exercise the bucket-count-8 scenarios
// called out in spec.md §8.
type Table struct {
	opts    Options
	self    peer.Peer
	buckets []*bucket
}

// New builds an empty routing table for the given local peer.
func New(self peer.Peer, opts ...Option) *Table {
	o := defaultOptions
	for _, apply := range opts {
		apply(&o)
	}

	t := &Table{
		opts:    o,
		self:    self,
		buckets: make([]*bucket, len(self.ID)*8),
	}
	for i := range t.buckets {
		t.buckets[i] = newBucket()
	}
	return t
}

// Self returns the local peer this table is indexed relative to.
func (t *Table) Self() peer.Peer {
	return t.self
}

// BucketSize returns the configured replication factor K.
func (t *Table) BucketSize() int {
	return t.opts.BucketSize
}

// bucketFor returns the bucket index for target relative to self, and
// whether target is a valid (non-self) candidate.
func (t *Table) bucketFor(target nodeid.ID) (int, bool) {
	d := nodeid.Distance(t.self.ID, target)
	return nodeid.BucketIndex(d)
}

// Observe idempotently records an observation of peer p: a first sighting
// inserts p if its bucket has room; a repeat sighting is a no-op; self is
// always rejected; a full bucket silently drops the new peer (returning
// ErrBucketFull so callers can log/count it, but never panics or blocks).
func (t *Table) Observe(p peer.Peer) error {
	if p.ID.Equal(t.self.ID) {
		return ErrSelf
	}

	idx, ok := t.bucketFor(p.ID)
	if !ok {
		// distance-to-self is zero only when p.ID == self.ID, already
		// handled above; defensive fallback.
		return ErrSelf
	}

	b := t.buckets[idx]
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for e := b.list.Front(); e != nil; e = e.Next() {
		if e.Value.(peer.Peer).ID.Equal(p.ID) {
			return nil
		}
	}

	if b.list.Len() >= t.opts.BucketSize {
		return ErrBucketFull
	}

	b.list.PushBack(p)
	return nil
}

// GetPeer looks up a peer by id, returning ok=false if absent.
func (t *Table) GetPeer(id nodeid.ID) (peer.Peer, bool) {
	idx, ok := t.bucketFor(id)
	if !ok {
		return peer.Peer{}, false
	}

	b := t.buckets[idx]
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for e := b.list.Front(); e != nil; e = e.Next() {
		if p := e.Value.(peer.Peer); p.ID.Equal(id) {
			return p, true
		}
	}
	return peer.Peer{}, false
}

// RemovePeer deletes a peer by id, returning whether it was present.
func (t *Table) RemovePeer(id nodeid.ID) bool {
	idx, ok := t.bucketFor(id)
	if !ok {
		return false
	}

	b := t.buckets[idx]
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for e := b.list.Front(); e != nil; e = e.Next() {
		if e.Value.(peer.Peer).ID.Equal(id) {
			b.list.Remove(e)
			return true
		}
	}
	return false
}

// Closest returns up to n peers near target, using the spiral-bucket
// expansion described in spec.md §4.2: start at the bucket target would
// land in, then walk outward one bucket at a time on both sides, collecting
// peers sorted by XOR distance *within* each bucket as they're appended.
// The returned slice is not guaranteed to be globally sorted by distance —
// that is a documented weakness callers relying on strict ordering (the
// iterative lookup) must compensate for by re-sorting locally.
func (t *Table) Closest(target nodeid.ID, n int) []peer.Peer {
	bucketID, ok := t.bucketFor(target)
	if !ok {
		// target == self: every known peer is equally "close" in bucket
		// terms; fall back to bucket 0 as the starting point.
		bucketID = 0
	}

	var result []peer.Peer
	collectSorted := func(idx int) {
		if idx < 0 || idx >= len(t.buckets) {
			return
		}
		b := t.buckets[idx]
		b.mutex.RLock()
		defer b.mutex.RUnlock()

		var fromBucket []peer.Peer
		for e := b.list.Front(); e != nil; e = e.Next() {
			fromBucket = append(fromBucket, e.Value.(peer.Peer))
		}
		sort.SliceStable(fromBucket, func(i, j int) bool {
			di := nodeid.Distance(fromBucket[i].ID, target)
			dj := nodeid.Distance(fromBucket[j].ID, target)
			return nodeid.Less(di, dj)
		})
		result = append(result, fromBucket...)
	}

	collectSorted(bucketID)
	for offset := 1; len(result) < n && (bucketID-offset >= 0 || bucketID+offset < len(t.buckets)); offset++ {
		if bucketID-offset >= 0 {
			collectSorted(bucketID - offset)
		}
		if len(result) >= n {
			break
		}
		if bucketID+offset < len(t.buckets) {
			collectSorted(bucketID + offset)
		}
	}

	if len(result) > n {
		result = result[:n]
	}
	return result
}

// AllPeers returns every peer currently known, in bucket order.
func (t *Table) AllPeers() []peer.Peer {
	var all []peer.Peer
	for _, b := range t.buckets {
		b.mutex.RLock()
		for e := b.list.Front(); e != nil; e = e.Next() {
			all = append(all, e.Value.(peer.Peer))
		}
		b.mutex.RUnlock()
	}
	return all
}

// BucketCount returns the number of buckets in the table (8 * ID length).
func (t *Table) BucketCount() int {
	return len(t.buckets)
}
