package transfer_test

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

	"github.com/razor7877/kademliatransfer/transfer"
)

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string][]byte)}
}

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

type memWriter struct {
	store *memStore
	name  string
	buf   bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.files[w.name] = w.buf.Bytes()
	return nil
}

type pipeDialer struct {
	conn net.Conn
}

func (d pipeDialer) Dial(ctx context.Context, addr *net.TCPAddr) (net.Conn, error) {
	return d.conn, nil
}

func TestPushThenFetchRoundTrip(t *testing.T) {
	t.Parallel()

	area := newMemStore()

	clientConn, serverConn := net.Pipe()
	go func() {
		_ = transfer.Serve(serverConn, area)
	}()

	err := transfer.Push(context.Background(), pipeDialer{conn: clientConn}, nil, "hello.txt", []byte("hello world"))
	require.NoError(t, err)

	clientConn2, serverConn2 := net.Pipe()
	go func() {
		_ = transfer.Serve(serverConn2, area)
	}()

	got, err := transfer.Fetch(context.Background(), pipeDialer{conn: clientConn2}, nil, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestFetchMissingFileReturnsErrNotFound(t *testing.T) {
	t.Parallel()

	area := newMemStore()

	clientConn, serverConn := net.Pipe()
	go func() {
		_ = transfer.Serve(serverConn, area)
	}()

	_, err := transfer.Fetch(context.Background(), pipeDialer{conn: clientConn}, nil, "nope.txt")
	assert.ErrorIs(t, err, transfer.ErrNotFound)
}
