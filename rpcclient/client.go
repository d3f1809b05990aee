// Package rpcclient implements the outbound half of the RPC protocol: for
// each call it opens a fresh stream to the target peer, writes one
// encoded rpcwire.Message, and reads back exactly one reply — the
// "open a stream ... send ... mark it contacted" step of spec.md §4.6,
// translated into Go's net.Dialer rather than the teacher's persistent
// EstablishedPeer connections in protocol/node.go (this protocol is
// one-shot-per-call, like the bulk-transfer sub-protocol it shares a
// listening port with).
package rpcclient

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/razor7877/kademliatransfer/nodeid"
	"github.com/razor7877/kademliatransfer/peer"
	"github.com/razor7877/kademliatransfer/rpcwire"
)

// DefaultTimeout bounds each per-call send/receive round trip, per
// spec.md §5's "suggested 3s" per-connection timeout.
const DefaultTimeout = 3 * time.Second

// Dialer opens an outbound connection to a peer's RPC/transfer port.
type Dialer interface {
	Dial(ctx context.Context, addr *net.TCPAddr) (net.Conn, error)
}

// NetDialer dials real TCP connections.
type NetDialer struct{}

// Dial implements Dialer.
func (NetDialer) Dial(ctx context.Context, addr *net.TCPAddr) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr.String())
}

// Client issues PING/STORE/FIND_NODE/FIND_VALUE RPCs against remote
// peers. It implements both lookup.Transport and content.Client.
type Client struct {
	self    peer.Peer
	dialer  Dialer
	codec   *rpcwire.Codec
	timeout time.Duration
}

// New builds a Client. self is embedded as the caller_peer of every
// outgoing envelope.
func New(self peer.Peer, dialer Dialer, codec *rpcwire.Codec) *Client {
	return &Client{self: self, dialer: dialer, codec: codec, timeout: DefaultTimeout}
}

func (c *Client) call(ctx context.Context, target peer.Peer, msg rpcwire.Message) (rpcwire.Message, error) {
	conn, err := c.dialer.Dial(ctx, target.Addr)
	if err != nil {
		return nil, errors.Wrap(err, "rpcclient: dial failed")
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetDeadline(deadline)

	encoded, err := c.codec.Encode(msg)
	if err != nil {
		return nil, errors.Wrap(err, "rpcclient: failed to encode request")
	}
	if _, err := conn.Write(encoded); err != nil {
		return nil, errors.Wrap(err, "rpcclient: failed to send request")
	}

	reply, err := c.codec.ReadMessage(conn)
	if err != nil {
		return nil, errors.Wrap(err, "rpcclient: failed to read reply")
	}
	return reply, nil
}

// Ping sends a PING and reports whether the peer acknowledged.
func (c *Client) Ping(ctx context.Context, target peer.Peer) (bool, error) {
	reply, err := c.call(ctx, target, rpcwire.Ping{Caller: c.self})
	if err != nil {
		return false, err
	}
	resp, ok := reply.(rpcwire.Response)
	if !ok || resp.CallKind != rpcwire.CallPingResp {
		return false, errors.New("rpcclient: unexpected reply to PING")
	}
	return resp.Success, nil
}

// Store sends a STORE announcing key with the given providers.
func (c *Client) Store(ctx context.Context, target peer.Peer, key nodeid.ID, providers []peer.Peer) (bool, error) {
	reply, err := c.call(ctx, target, rpcwire.Store{Caller: c.self, Key: key, Providers: providers})
	if err != nil {
		return false, err
	}
	resp, ok := reply.(rpcwire.Response)
	if !ok || resp.CallKind != rpcwire.CallStoreResp {
		return false, errors.New("rpcclient: unexpected reply to STORE")
	}
	return resp.Success, nil
}

// FindNode sends FIND_NODE and returns the closest-peers response.
func (c *Client) FindNode(ctx context.Context, target peer.Peer, key nodeid.ID) (rpcwire.FindNodeResponse, error) {
	reply, err := c.call(ctx, target, rpcwire.Find{Caller: c.self, CallKind: rpcwire.CallFindNode, Target: key})
	if err != nil {
		return rpcwire.FindNodeResponse{}, err
	}
	resp, ok := reply.(rpcwire.FindNodeResponse)
	if !ok {
		return rpcwire.FindNodeResponse{}, errors.New("rpcclient: unexpected reply to FIND_NODE")
	}
	return resp, nil
}

// FindValue sends FIND_VALUE and returns the found/closest response.
func (c *Client) FindValue(ctx context.Context, target peer.Peer, key nodeid.ID) (rpcwire.FindValueResponse, error) {
	reply, err := c.call(ctx, target, rpcwire.Find{Caller: c.self, CallKind: rpcwire.CallFindValue, Target: key})
	if err != nil {
		return rpcwire.FindValueResponse{}, err
	}
	resp, ok := reply.(rpcwire.FindValueResponse)
	if !ok {
		return rpcwire.FindValueResponse{}, errors.New("rpcclient: unexpected reply to FIND_VALUE")
	}
	return resp, nil
}
