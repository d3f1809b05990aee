// Package transfer implements the bulk-transfer sub-protocol from
// spec.md §4.5: an HTTP/1.1-compatible GET/PUT exchange multiplexed onto
// the same listening port as the RPC protocol, dispatched by inspecting
// the first four bytes of an accepted stream. It reuses net/http's
// request/response reader and writer instead of the teacher's
// length-prefixed base.MessageAdapter framing (base/messages.go), per
// spec.md §4.5's explicit choice of a text-header/binary-body format.
package transfer

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Fetch when the provider responds 404.
var ErrNotFound = errors.New("transfer: peer does not have the requested file")

// Dialer opens a connection to a peer's transfer port. Production code
// dials real TCP; tests substitute an in-memory pipe.
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

// Store is the "opaque byte store keyed by file name" spec.md §6 requires
// of both the upload and download directories. It is consumed, not
// owned: a directory-backed implementation lives in cmd/kademliatransfer,
// since the filesystem layout under those directories is explicitly out
// of this package's scope.
type Store interface {
	Open(name string) (io.ReadCloser, int64, error)
	Create(name string) (io.WriteCloser, error)
}

// Fetch dials target and issues GET /<name>, returning the full body once
// it matches the response's Content-Length exactly. Any other outcome,
// including a short read, is a failure the caller may retry against a
// different provider.
func Fetch(ctx context.Context, dialer Dialer, target *net.TCPAddr, name string) ([]byte, error) {
	conn, err := dialer.Dial(ctx, target)
	if err != nil {
		return nil, errors.Wrap(err, "transfer: dial failed")
	}
	defer conn.Close()

	req, err := http.NewRequest(http.MethodGet, "/"+name, nil)
	if err != nil {
		return nil, errors.Wrap(err, "transfer: failed to build request")
	}
	req.Close = true

	if err := req.Write(conn); err != nil {
		return nil, errors.Wrap(err, "transfer: failed to send request")
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return nil, errors.Wrap(err, "transfer: failed to read response")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("transfer: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, resp.ContentLength+1))
	if err != nil {
		return nil, errors.Wrap(err, "transfer: short read")
	}
	if int64(len(body)) != resp.ContentLength {
		return nil, errors.New("transfer: body length does not match Content-Length")
	}
	return body, nil
}

// Push dials target and issues PUT /<name> with the given body.
func Push(ctx context.Context, dialer Dialer, target *net.TCPAddr, name string, data []byte) error {
	conn, err := dialer.Dial(ctx, target)
	if err != nil {
		return errors.Wrap(err, "transfer: dial failed")
	}
	defer conn.Close()

	req, err := http.NewRequest(http.MethodPut, "/"+name, strings.NewReader(string(data)))
	if err != nil {
		return errors.Wrap(err, "transfer: failed to build request")
	}
	req.ContentLength = int64(len(data))
	req.Close = true

	if err := req.Write(conn); err != nil {
		return errors.Wrap(err, "transfer: failed to send request")
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return errors.Wrap(err, "transfer: failed to read response")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return errors.Errorf("transfer: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Serve reads one HTTP/1.1 GET or PUT request off conn and answers it
// against area, then closes conn — the sub-protocol is a single exchange
// per connection, per spec.md §4.5.
func Serve(conn net.Conn, area Store) error {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	req, err := http.ReadRequest(reader)
	if err != nil {
		return errors.Wrap(err, "transfer: malformed request")
	}
	defer req.Body.Close()

	switch req.Method {
	case http.MethodGet:
		return serveFetch(conn, area, req)
	case http.MethodPut:
		return servePush(conn, area, req)
	default:
		return writeStatus(conn, http.StatusMethodNotAllowed)
	}
}

func serveFetch(conn net.Conn, area Store, req *http.Request) error {
	name := strings.TrimPrefix(req.URL.Path, "/")

	rc, size, err := area.Open(name)
	if err != nil {
		return writeStatus(conn, http.StatusNotFound)
	}
	defer rc.Close()

	resp := &http.Response{
		StatusCode:    http.StatusOK,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Length": {strconv.FormatInt(size, 10)}},
		ContentLength: size,
		Body:          rc,
		Close:         true,
	}
	return resp.Write(conn)
}

func servePush(conn net.Conn, area Store, req *http.Request) error {
	name := strings.TrimPrefix(req.URL.Path, "/")

	wc, err := area.Create(name)
	if err != nil {
		return writeStatus(conn, http.StatusInternalServerError)
	}

	n, copyErr := io.CopyN(wc, req.Body, req.ContentLength)
	closeErr := wc.Close()

	if copyErr != nil || n != req.ContentLength || closeErr != nil {
		_ = writeStatus(conn, http.StatusBadRequest)
		if copyErr != nil {
			return errors.Wrap(copyErr, "transfer: push body short")
		}
		return errors.Wrap(closeErr, "transfer: failed to finalize pushed file")
	}

	return writeStatus(conn, http.StatusCreated)
}

func writeStatus(conn net.Conn, status int) error {
	resp := &http.Response{
		StatusCode: status,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{},
		Body:       http.NoBody,
		Close:      true,
	}
	return resp.Write(conn)
}
