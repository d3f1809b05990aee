// Package reactor implements the concurrent I/O loop from spec.md §5: a
// bounded accept loop that dispatches each stream to the RPC or
// bulk-transfer handler by its first four bytes, a periodic discovery
// broadcast, and a command-intake drain — the Go translation of
// original_source/src/network.c's poll(2) loop and
// protocol/node.go's Start()/Stop() goroutine-per-connection shape.
package reactor

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/razor7877/kademliatransfer/command"
	"github.com/razor7877/kademliatransfer/content"
	"github.com/razor7877/kademliatransfer/kbucket"
	"github.com/razor7877/kademliatransfer/nodeid"
	"github.com/razor7877/kademliatransfer/peer"
	"github.com/razor7877/kademliatransfer/rpcwire"
	"github.com/razor7877/kademliatransfer/store"
	"github.com/razor7877/kademliatransfer/transfer"
)

// DefaultMaxSockets bounds accepted connections, per spec.md §5's
// "suggested 128" MAX_SOCK.
const DefaultMaxSockets = 128

// DefaultBroadcastInterval is the discovery broadcast period.
const DefaultBroadcastInterval = 30 * time.Second

// DefaultIOTimeout bounds a single accepted connection's lifetime.
const DefaultIOTimeout = 3 * time.Second

// Config configures a Reactor.
type Config struct {
	MaxSockets        int
	BroadcastInterval time.Duration
	IOTimeout         time.Duration
	K                 int
}

func (c Config) withDefaults() Config {
	if c.MaxSockets <= 0 {
		c.MaxSockets = DefaultMaxSockets
	}
	if c.BroadcastInterval <= 0 {
		c.BroadcastInterval = DefaultBroadcastInterval
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = DefaultIOTimeout
	}
	if c.K <= 0 {
		c.K = kbucket.DefaultBucketSize
	}
	return c
}

// Broadcaster sends the discovery BROADCAST datagram.
type Broadcaster interface {
	Broadcast(envelope []byte) error
	// ReadFrom blocks for one inbound broadcast datagram. The receive loop
	// skips a zero-length payload and exits on a read error or once the
	// reactor has been stopped.
	ReadFrom() (payload []byte, from *net.UDPAddr, err error)
}

// Reactor owns the listening socket, the routing table, the content
// store, and the command queue for a single local node.
type Reactor struct {
	cfg      Config
	self     peer.Peer
	table    *kbucket.Table
	store    *store.Store
	codec    *rpcwire.Codec
	engine   *content.Engine
	queue    *command.Queue
	upload   transfer.Store
	listener net.Listener
	udp      Broadcaster
	logger   zerolog.Logger

	sem    chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	droppedCount int
	dropMu       sync.Mutex
}

// New builds a Reactor bound to listener (TCP, RPC + bulk-transfer) and
// udp (discovery broadcast), suitable for Start.
func New(cfg Config, self peer.Peer, table *kbucket.Table, contentStore *store.Store, codec *rpcwire.Codec, engine *content.Engine, queue *command.Queue, upload transfer.Store, listener net.Listener, udp Broadcaster, logger zerolog.Logger) *Reactor {
	cfg = cfg.withDefaults()
	return &Reactor{
		cfg:      cfg,
		self:     self,
		table:    table,
		store:    contentStore,
		codec:    codec,
		engine:   engine,
		queue:    queue,
		upload:   upload,
		listener: listener,
		udp:      udp,
		logger:   logger,
		sem:      make(chan struct{}, cfg.MaxSockets),
	}
}

// Start launches the accept loop, the broadcast ticker, the broadcast
// receiver, and the command drain loop. It returns immediately; call
// Stop to shut down.
func (r *Reactor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(4)
	go r.acceptLoop(ctx)
	go r.broadcastLoop(ctx)
	go r.receiveBroadcastLoop(ctx)
	go r.commandLoop(ctx)
}

// Stop requests shutdown, closes the listener, drains the command queue
// with Cancelled results, and waits for every goroutine to exit.
func (r *Reactor) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	_ = r.listener.Close()
	if closer, ok := r.udp.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	r.wg.Wait()
	r.queue.Drain()
}

// DroppedConnections reports how many accepted connections were closed
// immediately for exceeding MaxSockets, per spec.md §7's Exhaustion kind.
func (r *Reactor) DroppedConnections() int {
	r.dropMu.Lock()
	defer r.dropMu.Unlock()
	return r.droppedCount
}

func (r *Reactor) acceptLoop(ctx context.Context) {
	defer r.wg.Done()

	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			r.logger.Error().Err(err).Msg("accept failed")
			continue
		}

		select {
		case r.sem <- struct{}{}:
		default:
			// MAX_SOCK exhausted: log and drop, per original_source's
			// "not enough space in buffer to allocate new connection".
			r.dropMu.Lock()
			r.droppedCount++
			r.dropMu.Unlock()
			r.logger.Warn().Msg("socket table full, dropping accepted connection")
			conn.Close()
			continue
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer func() { <-r.sem }()
			r.handleConn(conn)
		}()
	}
}

type peekedConn struct {
	net.Conn
	r *bufio.Reader
}

func (p *peekedConn) Read(b []byte) (int, error) { return p.r.Read(b) }

func (r *Reactor) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(r.cfg.IOTimeout))

	br := bufio.NewReader(conn)
	prefix, err := br.Peek(4)
	if err != nil {
		return
	}

	wrapped := &peekedConn{Conn: conn, r: br}

	if bytes.Equal(prefix, rpcwire.Magic[:]) {
		r.handleRPC(wrapped)
		return
	}

	if err := transfer.Serve(wrapped, r.upload); err != nil {
		r.logger.Debug().Err(err).Msg("bulk-transfer exchange failed")
	}
}

func (r *Reactor) handleRPC(conn net.Conn) {
	msg, err := r.codec.ReadMessage(conn)
	if err != nil {
		r.logger.Debug().Err(err).Msg("malformed rpc message, dropping")
		return
	}

	caller := msg.CallerPeer()
	if !caller.ID.Equal(r.self.ID) && caller.Addr != nil {
		if observeErr := r.table.Observe(caller); observeErr != nil && !errors.Is(observeErr, kbucket.ErrBucketFull) {
			r.logger.Debug().Err(observeErr).Msg("failed to observe caller")
		}
	}

	resp := r.dispatch(msg)
	if resp == nil {
		return
	}

	encoded, err := r.codec.Encode(resp)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode rpc response")
		return
	}
	if _, err := conn.Write(encoded); err != nil {
		r.logger.Debug().Err(err).Msg("failed to write rpc response")
	}
}

func (r *Reactor) dispatch(msg rpcwire.Message) rpcwire.Message {
	switch m := msg.(type) {
	case rpcwire.Ping:
		return rpcwire.Response{Caller: r.self, CallKind: rpcwire.CallPingResp, Success: true}
	case rpcwire.Store:
		r.store.Put(m.Key, m.Providers)
		return rpcwire.Response{Caller: r.self, CallKind: rpcwire.CallStoreResp, Success: true}
	case rpcwire.Find:
		return r.dispatchFind(m)
	case rpcwire.Broadcast:
		return nil
	default:
		return nil
	}
}

func (r *Reactor) dispatchFind(m rpcwire.Find) rpcwire.Message {
	switch m.CallKind {
	case rpcwire.CallFindNode:
		closest := r.table.Closest(m.Target, r.cfg.K)
		return rpcwire.FindNodeResponse{Caller: r.self, Closest: closest}
	case rpcwire.CallFindValue:
		if providers, ok := r.store.Get(m.Target); ok {
			return rpcwire.FindValueResponse{Caller: r.self, Found: true, Key: m.Target, Value: providers}
		}
		closest := r.table.Closest(m.Target, r.cfg.K)
		return rpcwire.FindValueResponse{Caller: r.self, Found: false, Closest: closest}
	default:
		return nil
	}
}

func (r *Reactor) broadcastLoop(ctx context.Context) {
	defer r.wg.Done()

	if r.udp == nil {
		return
	}

	ticker := time.NewTicker(r.cfg.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			encoded, err := r.codec.Encode(rpcwire.Broadcast{Caller: r.self})
			if err != nil {
				r.logger.Error().Err(err).Msg("failed to encode broadcast")
				continue
			}
			if err := r.udp.Broadcast(encoded); err != nil {
				r.logger.Debug().Err(err).Msg("failed to send discovery broadcast")
			}
		}
	}
}

func (r *Reactor) receiveBroadcastLoop(ctx context.Context) {
	defer r.wg.Done()

	if r.udp == nil {
		return
	}

	for {
		payload, from, err := r.udp.ReadFrom()
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err != nil {
			r.logger.Debug().Err(err).Msg("discovery broadcast read failed")
			return
		}
		if len(payload) == 0 {
			continue
		}

		msg, err := r.codec.ReadMessage(bytes.NewReader(payload))
		if err != nil {
			r.logger.Debug().Err(err).Msg("malformed discovery broadcast, dropping")
			continue
		}
		broadcast, ok := msg.(rpcwire.Broadcast)
		if !ok {
			continue
		}

		caller := broadcast.CallerPeer()
		if caller.ID.Equal(r.self.ID) {
			continue
		}
		if r.self.Addr != nil && from != nil && from.IP.Equal(r.self.Addr.IP) {
			continue
		}
		_ = r.table.Observe(caller)
	}
}

func (r *Reactor) commandLoop(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cmd, ok := r.queue.Pop()
		if !ok {
			// Mirrors spec.md §5's bounded readiness-wait timeout (50ms)
			// rather than busy-spinning on an empty queue.
			time.Sleep(50 * time.Millisecond)
			continue
		}

		r.runCommand(ctx, cmd)
	}
}

func (r *Reactor) runCommand(ctx context.Context, cmd *command.Command) {
	switch cmd.Type {
	case command.ShowStatus:
		cmd.Complete(command.Result{Code: command.OK})
	case command.Upload:
		err := r.engine.Publish(ctx, content.Descriptor{
			Hash: nodeid.New(cmd.FileHash),
			Name: cmd.FileName,
		})
		cmd.Complete(resultFromError(err))
	case command.Download:
		err := r.engine.Fetch(ctx, content.Descriptor{
			Hash: nodeid.New(cmd.FileHash),
			Name: cmd.FileName,
		})
		cmd.Complete(resultFromError(err))
	default:
		cmd.Complete(command.Result{Code: command.Failure, Err: errors.New("reactor: unknown command type")})
	}
}

func resultFromError(err error) command.Result {
	if err == nil {
		return command.Result{Code: command.OK}
	}
	if errors.Is(err, content.ErrNotFound) {
		return command.Result{Code: command.NotFound, Err: err}
	}
	return command.Result{Code: command.Failure, Err: err}
}
