// Package content orchestrates the publish and fetch flows from
// spec.md §4.7/§4.8, wiring the routing table, content store, iterative
// lookup, and bulk-transfer sub-protocol together the way
// skademlia/discovery/service.go wires the routing table to its RPC
// dispatch, generalized from "update routes and reply" to the full
// publish/fetch orchestration this specification calls for.
package content

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/razor7877/kademliatransfer/kbucket"
	"github.com/razor7877/kademliatransfer/lookup"
	"github.com/razor7877/kademliatransfer/nodeid"
	"github.com/razor7877/kademliatransfer/peer"
	"github.com/razor7877/kademliatransfer/store"
	"github.com/razor7877/kademliatransfer/transfer"
)

// ErrNotFound is returned by Fetch when the iterative lookup completes
// without locating the key, or when the provider set holds no peer other
// than self to try. When providers were tried and all failed, Fetch instead
// returns the last provider's error, wrapped.
var ErrNotFound = errors.New("content: file not found")

// Descriptor is the minimal magnet-reference tuple this package consumes:
// hash, display name, and byte length. Magnet-URI encoding/decoding is
// out of scope; callers hand Engine an already-parsed Descriptor.
type Descriptor struct {
	Hash nodeid.ID
	Name string
	Size int64
}

// Client is the subset of RPC calls the content engine issues directly,
// beyond what lookup.Transport already covers.
type Client interface {
	lookup.Transport
	Store(ctx context.Context, target peer.Peer, key nodeid.ID, providers []peer.Peer) (bool, error)
}

// Engine implements the publish and fetch flows for a single local node.
type Engine struct {
	self         peer.Peer
	table        *kbucket.Table
	contentStore *store.Store
	client       Client
	dialer       transfer.Dialer
	upload       transfer.Store
	download     transfer.Store
	k            int
}

// NewEngine builds a content engine. k is the replication factor (the
// number of closest nodes STORE is sent to, and the provider-set cap).
func NewEngine(self peer.Peer, table *kbucket.Table, contentStore *store.Store, client Client, dialer transfer.Dialer, upload, download transfer.Store, k int) *Engine {
	return &Engine{
		self:         self,
		table:        table,
		contentStore: contentStore,
		client:       client,
		dialer:       dialer,
		upload:       upload,
		download:     download,
		k:            k,
	}
}

// Publish implements spec.md §4.7: record self as a provider, run an
// iterative NodeMode lookup to find the K closest nodes to the hash, push
// the file to each that accepts it, then STORE the final provider set on
// all K closest nodes.
func (e *Engine) Publish(ctx context.Context, d Descriptor) error {
	e.contentStore.Put(d.Hash, []peer.Peer{e.self})

	rc, _, err := e.upload.Open(d.Name)
	if err != nil {
		return errors.Wrap(err, "content: publish source file unavailable")
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return errors.Wrap(err, "content: failed to read source file")
	}

	seed := e.table.Closest(d.Hash, e.k)
	result := lookup.Run(ctx, lookup.NodeMode, d.Hash, e.self, seed, e.k, e.client, e.table)

	providers := []peer.Peer{e.self}
	for _, p := range result.Closest {
		if p.ID.Equal(e.self.ID) || len(providers) >= e.k {
			continue
		}
		if err := transfer.Push(ctx, e.dialer, p.Addr, d.Name, data); err != nil {
			continue
		}
		providers = append(providers, p)
	}

	e.contentStore.Put(d.Hash, providers)

	for _, p := range result.Closest {
		if p.ID.Equal(e.self.ID) {
			continue
		}
		_, _ = e.client.Store(ctx, p, d.Hash, providers)
	}

	return nil
}

// Fetch implements spec.md §4.8. On success the file has been written
// into the download area under d.Name.
func (e *Engine) Fetch(ctx context.Context, d Descriptor) error {
	if providers, ok := e.contentStore.Get(d.Hash); ok {
		for _, p := range providers {
			if p.ID.Equal(e.self.ID) {
				return nil
			}
		}
		return e.tryProviders(ctx, d, providers)
	}

	seed := e.table.Closest(d.Hash, e.k)
	result := lookup.Run(ctx, lookup.ValueMode, d.Hash, e.self, seed, e.k, e.client, e.table)
	if !result.Found {
		return ErrNotFound
	}
	return e.tryProviders(ctx, d, result.Value)
}

func (e *Engine) tryProviders(ctx context.Context, d Descriptor, providers []peer.Peer) error {
	var lastErr error
	for _, p := range providers {
		if p.ID.Equal(e.self.ID) {
			continue
		}
		data, err := transfer.Fetch(ctx, e.dialer, p.Addr, d.Name)
		if err != nil {
			lastErr = err
			continue
		}

		wc, err := e.download.Create(d.Name)
		if err != nil {
			return errors.Wrap(err, "content: failed to open download destination")
		}
		if _, err := wc.Write(data); err != nil {
			wc.Close()
			lastErr = err
			continue
		}
		if err := wc.Close(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	if lastErr == nil {
		lastErr = ErrNotFound
	}
	return errors.Wrap(lastErr, "content: fetch failed against all known providers")
}
