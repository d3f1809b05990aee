package reactor

import (
	"net"

	"github.com/pkg/errors"
)

// UDPBroadcaster implements Broadcaster over a real UDP socket bound to
// the discovery port P+1, per spec.md §6.
type UDPBroadcaster struct {
	conn      *net.UDPConn
	broadcast *net.UDPAddr
	bufSize   int
}

// NewUDPBroadcaster binds a UDP socket on listenAddr and targets datagrams
// at broadcastAddr (the LAN broadcast address on the discovery port).
func NewUDPBroadcaster(listenAddr, broadcastAddr *net.UDPAddr) (*UDPBroadcaster, error) {
	conn, err := net.ListenUDP("udp4", listenAddr)
	if err != nil {
		return nil, errors.Wrap(err, "reactor: failed to bind discovery socket")
	}
	return &UDPBroadcaster{conn: conn, broadcast: broadcastAddr, bufSize: 4096}, nil
}

// Broadcast implements Broadcaster.
func (b *UDPBroadcaster) Broadcast(envelope []byte) error {
	_, err := b.conn.WriteToUDP(envelope, b.broadcast)
	return err
}

// ReadFrom implements Broadcaster.
func (b *UDPBroadcaster) ReadFrom() ([]byte, *net.UDPAddr, error) {
	buf := make([]byte, b.bufSize)
	n, addr, err := b.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

// Close closes the underlying UDP socket, unblocking any pending
// ReadFrom call.
func (b *UDPBroadcaster) Close() error {
	return b.conn.Close()
}
