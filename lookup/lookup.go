// Package lookup implements the iterative FIND_NODE / FIND_VALUE traversal
// from spec.md §4.6: a sequential walk over a growing working set of
// candidate peers, bounded at 3*K total contacts, grounded in the
// contact-then-merge shape of skademlia/discovery/service.go's Pong/
// LookupRequest handling but reworked as a self-contained, mockable
// traversal rather than an inline message handler.
package lookup

import (
	"context"
	"sort"

	"github.com/razor7877/kademliatransfer/nodeid"
	"github.com/razor7877/kademliatransfer/peer"
	"github.com/razor7877/kademliatransfer/rpcwire"
)

// Mode selects the RPC issued against each contacted peer.
type Mode int

const (
	// NodeMode issues FIND_NODE; the lookup always returns the K closest
	// peers discovered.
	NodeMode Mode = iota
	// ValueMode issues FIND_VALUE; the lookup returns early with the
	// provider set on the first found=true response.
	ValueMode
)

// ContactMultiplier bounds total contacts per lookup at ContactMultiplier*K,
// per spec.md §4.6's termination guarantee against adversarial replies.
const ContactMultiplier = 3

// Transport issues the two lookup RPCs against a single peer. Production
// code backs this with an RPC client dialing over TCP; tests substitute a
// mock.
type Transport interface {
	FindNode(ctx context.Context, target peer.Peer, key nodeid.ID) (rpcwire.FindNodeResponse, error)
	FindValue(ctx context.Context, target peer.Peer, key nodeid.ID) (rpcwire.FindValueResponse, error)
}

// Observer records a sighting of a peer, satisfied by *kbucket.Table.
type Observer interface {
	Observe(p peer.Peer) error
}

// Result is the outcome of a completed lookup.
type Result struct {
	Mode    Mode
	Found   bool
	Value   []peer.Peer
	Closest []peer.Peer
}

type entry struct {
	peer      peer.Peer
	contacted bool
}

// Run performs the iterative lookup described in spec.md §4.6. seed is
// typically routing-table.closest(target, k); self and any peer matching
// self's id are never contacted or merged into the working set.
func Run(ctx context.Context, mode Mode, target nodeid.ID, self peer.Peer, seed []peer.Peer, k int, transport Transport, table Observer) Result {
	w := make([]entry, 0, len(seed))
	for _, p := range seed {
		if p.ID.Equal(self.ID) {
			continue
		}
		w = append(w, entry{peer: p})
	}

	maxContacts := ContactMultiplier * k
	contacts := 0

	for contacts < maxContacts {
		idx := closestUncontacted(w, target)
		if idx < 0 {
			break
		}

		candidate := w[idx].peer
		w[idx].contacted = true
		contacts++

		var closest []peer.Peer
		switch mode {
		case ValueMode:
			resp, err := transport.FindValue(ctx, candidate, target)
			if err != nil {
				// Timeout or malformed reply: drop this peer from the
				// current attempt and move on, per spec.md §7.
				continue
			}
			if resp.Found {
				return Result{Mode: ValueMode, Found: true, Value: resp.Value}
			}
			closest = resp.Closest
		case NodeMode:
			resp, err := transport.FindNode(ctx, candidate, target)
			if err != nil {
				continue
			}
			closest = resp.Closest
		}

		added := mergeClosest(&w, closest, self, table)
		if added == 0 {
			break
		}
	}

	sort.SliceStable(w, func(i, j int) bool {
		return nodeid.Less(nodeid.Distance(w[i].peer.ID, target), nodeid.Distance(w[j].peer.ID, target))
	})

	limit := k
	if limit > len(w) {
		limit = len(w)
	}
	closest := make([]peer.Peer, limit)
	for i := 0; i < limit; i++ {
		closest[i] = w[i].peer
	}

	return Result{Mode: mode, Closest: closest}
}

func closestUncontacted(w []entry, target nodeid.ID) int {
	best := -1
	for i := range w {
		if w[i].contacted {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		di := nodeid.Distance(w[i].peer.ID, target)
		db := nodeid.Distance(w[best].peer.ID, target)
		if nodeid.Less(di, db) {
			best = i
		}
	}
	return best
}

func mergeClosest(w *[]entry, candidates []peer.Peer, self peer.Peer, table Observer) int {
	added := 0
	for _, p := range candidates {
		if p.ID.Equal(self.ID) {
			continue
		}
		_ = table.Observe(p)

		if containsID(*w, p.ID) {
			continue
		}
		*w = append(*w, entry{peer: p})
		added++
	}
	return added
}

func containsID(w []entry, id nodeid.ID) bool {
	for _, e := range w {
		if e.peer.ID.Equal(id) {
			return true
		}
	}
	return false
}
