package content_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razor7877/kademliatransfer/content"
	"github.com/razor7877/kademliatransfer/kbucket"
	"github.com/razor7877/kademliatransfer/nodeid"
	"github.com/razor7877/kademliatransfer/peer"
	"github.com/razor7877/kademliatransfer/rpcwire"
	"github.com/razor7877/kademliatransfer/store"
	"github.com/razor7877/kademliatransfer/transfer"
)

func mkPeer(id byte) peer.Peer {
	return peer.New(nodeid.New([]byte{id}), &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(id)}, [32]byte{})
}

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemStore() *memStore { return &memStore{files: make(map[string][]byte)} }

func (s *memStore) Open(name string) (io.ReadCloser, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[name]
	if !ok {
		return nil, 0, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *memStore) Create(name string) (io.WriteCloser, error) {
	return &memWriter{store: s, name: name}, nil
}

func (s *memStore) put(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = data
}

type memWriter struct {
	store *memStore
	name  string
	buf   bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *memWriter) Close() error {
	w.store.put(w.name, w.buf.Bytes())
	return nil
}

// stubClient implements content.Client without any network traffic: by
// default it answers FindNode/FindValue with an empty response and Store
// with success, counting every call. Tests that don't expect network
// traffic assert the count stays zero; tests that do expect a lookup
// override the relevant field.
type stubClient struct {
	findValue func(ctx context.Context, target peer.Peer, key nodeid.ID) (rpcwire.FindValueResponse, error)
	findNode  func(ctx context.Context, target peer.Peer, key nodeid.ID) (rpcwire.FindNodeResponse, error)
	store     func(ctx context.Context, target peer.Peer, key nodeid.ID, providers []peer.Peer) (bool, error)
	calls     int
}

func (c *stubClient) FindNode(ctx context.Context, target peer.Peer, key nodeid.ID) (rpcwire.FindNodeResponse, error) {
	c.calls++
	if c.findNode != nil {
		return c.findNode(ctx, target, key)
	}
	return rpcwire.FindNodeResponse{}, nil
}

func (c *stubClient) FindValue(ctx context.Context, target peer.Peer, key nodeid.ID) (rpcwire.FindValueResponse, error) {
	c.calls++
	if c.findValue != nil {
		return c.findValue(ctx, target, key)
	}
	return rpcwire.FindValueResponse{}, nil
}

func (c *stubClient) Store(ctx context.Context, target peer.Peer, key nodeid.ID, providers []peer.Peer) (bool, error) {
	c.calls++
	if c.store != nil {
		return c.store(ctx, target, key, providers)
	}
	return true, nil
}

type pipeDialer struct {
	dial func(ctx context.Context, addr *net.TCPAddr) (net.Conn, error)
}

func (d pipeDialer) Dial(ctx context.Context, addr *net.TCPAddr) (net.Conn, error) {
	return d.dial(ctx, addr)
}

func TestFetchLocalProviderSetIncludingSelfIsImmediateNoNetwork(t *testing.T) {
	t.Parallel()

	self := mkPeer(0x00)
	table := kbucket.New(self)
	contentStore := store.New(4)
	client := &stubClient{}

	hash := nodeid.FromFile([]byte("payload"))
	contentStore.Put(hash, []peer.Peer{self})

	engine := content.NewEngine(self, table, contentStore, client, transfer.NetDialer{}, newMemStore(), newMemStore(), 4)

	err := engine.Fetch(context.Background(), content.Descriptor{Hash: hash, Name: "f.bin"})
	require.NoError(t, err)
	assert.Equal(t, 0, client.calls)
}

func TestFetchLocalProviderSetFetchesFromKnownProvider(t *testing.T) {
	t.Parallel()

	self := mkPeer(0x00)
	provider := mkPeer(0x01)
	table := kbucket.New(self)
	contentStore := store.New(4)
	client := &stubClient{}

	hash := nodeid.FromFile([]byte("payload"))
	contentStore.Put(hash, []peer.Peer{provider})

	upload := newMemStore()
	upload.put("f.bin", []byte("file contents"))
	download := newMemStore()

	clientConn, serverConn := net.Pipe()
	go func() { _ = transfer.Serve(serverConn, upload) }()

	dialer := pipeDialer{dial: func(ctx context.Context, addr *net.TCPAddr) (net.Conn, error) {
		return clientConn, nil
	}}

	engine := content.NewEngine(self, table, contentStore, client, dialer, upload, download, 4)

	err := engine.Fetch(context.Background(), content.Descriptor{Hash: hash, Name: "f.bin"})
	require.NoError(t, err)

	rc, _, err := download.Open("f.bin")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "file contents", string(data))
}

func TestFetchRunsValueModeLookupWhenNotLocallyKnown(t *testing.T) {
	t.Parallel()

	self := mkPeer(0x00)
	b := mkPeer(0x01)
	c := mkPeer(0x02)
	table := kbucket.New(self, kbucket.WithBucketSize(4))
	require.NoError(t, table.Observe(b))

	contentStore := store.New(4)
	hash := nodeid.FromFile([]byte("payload"))

	client := &stubClient{
		findValue: func(ctx context.Context, target peer.Peer, key nodeid.ID) (rpcwire.FindValueResponse, error) {
			return rpcwire.FindValueResponse{Found: true, Value: []peer.Peer{c}}, nil
		},
	}

	upload := newMemStore()
	download := newMemStore()
	upload.put("f.bin", []byte("remote contents"))

	clientConn, serverConn := net.Pipe()
	go func() { _ = transfer.Serve(serverConn, upload) }()

	dialer := pipeDialer{dial: func(ctx context.Context, addr *net.TCPAddr) (net.Conn, error) {
		return clientConn, nil
	}}

	engine := content.NewEngine(self, table, contentStore, client, dialer, upload, download, 4)

	err := engine.Fetch(context.Background(), content.Descriptor{Hash: hash, Name: "f.bin"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, client.calls, 1)
}

func TestFetchReturnsNotFoundWhenLookupFails(t *testing.T) {
	t.Parallel()

	self := mkPeer(0x00)
	table := kbucket.New(self)
	contentStore := store.New(4)
	client := &stubClient{}

	engine := content.NewEngine(self, table, contentStore, client, transfer.NetDialer{}, newMemStore(), newMemStore(), 4)

	hash := nodeid.FromFile([]byte("missing"))
	err := engine.Fetch(context.Background(), content.Descriptor{Hash: hash, Name: "f.bin"})
	assert.ErrorIs(t, err, content.ErrNotFound)
}
