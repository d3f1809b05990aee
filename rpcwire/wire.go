// Package rpcwire implements the fixed-shape Kademlia RPC envelope and
// per-call bodies from spec.md §4.4/§6: framing, the call-type enum, and
// explicit little-endian encode/decode routines over byte slices (rather
// than relying on any implicit struct layout), per the "packed on-wire
// structs" design note in spec.md §9.
package rpcwire

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"

	"github.com/razor7877/kademliatransfer/nodeid"
	"github.com/razor7877/kademliatransfer/peer"
)

// Magic identifies an RPC stream, as opposed to a bulk-transfer stream.
var Magic = [4]byte{'K', 'D', 'M', 'T'}

// CallType tags the shape of an RPC body.
type CallType uint8

// The nine call types from spec.md §3.
const (
	CallPing CallType = iota + 1
	CallStore
	CallFindNode
	CallFindValue
	CallBroadcast
	CallPingResp
	CallStoreResp
	CallFindNodeResp
	CallFindValueResp
)

// ErrWireFormat is returned for any magic mismatch, size mismatch, or
// truncated read, per spec.md §7's WireFormat error kind.
var ErrWireFormat = errors.New("rpcwire: malformed message")

const (
	headerPrefixSize = 4 + 4 + 1 // magic + packet_size + call_type
	wirePeerSize     = 32 + 2 + 2 + 4 + 8 + 32
	addressPadding   = 8
)

// wirePeer is the 80-byte fixed-shape peer record embedded in every
// envelope and in STORE/FIND_NODE_RESP/FIND_VALUE_RESP bodies:
// 32-byte id | 16-byte address (2-byte family, 2-byte port network order,
// 4-byte IPv4, 8 bytes padding) | 32-byte reserved public key.
func encodePeer(buf *bytes.Buffer, p peer.Peer) error {
	idBytes := make([]byte, 32)
	copy(idBytes, p.ID)
	buf.Write(idBytes)

	var family, port uint16
	var ip4 [4]byte
	if p.Addr != nil {
		family = 2 // AF_INET
		port = uint16(p.Addr.Port)
		if v4 := p.Addr.IP.To4(); v4 != nil {
			copy(ip4[:], v4)
		}
	}

	if err := binary.Write(buf, binary.LittleEndian, family); err != nil {
		return err
	}
	// Port is carried in network byte order (big-endian), per spec.md §6.
	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, port)
	buf.Write(portBytes)
	buf.Write(ip4[:])
	buf.Write(make([]byte, addressPadding))
	buf.Write(p.PublicKey[:])
	return nil
}

func decodePeer(r io.Reader) (peer.Peer, error) {
	raw := make([]byte, wirePeerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return peer.Peer{}, errors.Wrap(ErrWireFormat, err.Error())
	}

	id := nodeid.New(raw[0:32])
	family := binary.LittleEndian.Uint16(raw[32:34])
	port := binary.BigEndian.Uint16(raw[34:36])
	ip4 := raw[36:40]
	var publicKey [32]byte
	copy(publicKey[:], raw[48:80])

	var addr *net.TCPAddr
	if family != 0 {
		addr = &net.TCPAddr{IP: net.IPv4(ip4[0], ip4[1], ip4[2], ip4[3]), Port: int(port)}
	}

	return peer.Peer{ID: id, Addr: addr, PublicKey: publicKey}, nil
}

// Codec encodes and decodes RPC messages for a fixed replication factor K:
// the STORE and *_RESP bodies embed exactly K wirePeer slots, so K must be
// agreed network-wide.
type Codec struct {
	K int
}

// NewCodec builds a Codec for replication factor k.
func NewCodec(k int) *Codec {
	return &Codec{K: k}
}

// Message is implemented by every decodable RPC body.
type Message interface {
	Type() CallType
	CallerPeer() peer.Peer
}

// Ping carries no payload beyond the envelope.
type Ping struct{ Caller peer.Peer }

func (m Ping) Type() CallType        { return CallPing }
func (m Ping) CallerPeer() peer.Peer { return m.Caller }

// Store announces a key and its known providers.
type Store struct {
	Caller    peer.Peer
	Key       nodeid.ID
	Providers []peer.Peer
}

func (m Store) Type() CallType        { return CallStore }
func (m Store) CallerPeer() peer.Peer { return m.Caller }

// Find carries a target key, shared by FIND_NODE and FIND_VALUE.
type Find struct {
	Caller   peer.Peer
	CallKind CallType // CallFindNode or CallFindValue
	Target   nodeid.ID
}

func (m Find) Type() CallType        { return m.CallKind }
func (m Find) CallerPeer() peer.Peer { return m.Caller }

// Broadcast is the LAN discovery datagram; the envelope is the payload.
type Broadcast struct{ Caller peer.Peer }

func (m Broadcast) Type() CallType        { return CallBroadcast }
func (m Broadcast) CallerPeer() peer.Peer { return m.Caller }

// Response carries a PING_RESP or STORE_RESP success flag.
type Response struct {
	Caller   peer.Peer
	CallKind CallType // CallPingResp or CallStoreResp
	Success  bool
}

func (m Response) Type() CallType        { return m.CallKind }
func (m Response) CallerPeer() peer.Peer { return m.Caller }

// FindNodeResponse always carries a (possibly empty) closest-peer list;
// the found flag Encode writes for this call type is always false, per
// spec.md §4.4.
type FindNodeResponse struct {
	Caller  peer.Peer
	Closest []peer.Peer
}

func (m FindNodeResponse) Type() CallType        { return CallFindNodeResp }
func (m FindNodeResponse) CallerPeer() peer.Peer { return m.Caller }

// FindValueResponse carries Found=true plus Key/Value iff the responder
// has the key, otherwise Found=false plus Closest. Key is always written
// to the wire (the value-tuple slot is fixed-shape even when empty) but is
// meaningful only when Found is true.
type FindValueResponse struct {
	Caller  peer.Peer
	Found   bool
	Key     nodeid.ID
	Value   []peer.Peer
	Closest []peer.Peer
}

func (m FindValueResponse) Type() CallType        { return CallFindValueResp }
func (m FindValueResponse) CallerPeer() peer.Peer { return m.Caller }

// ExpectedSize returns the fixed total packet_size for callType under this
// codec's K, and false for an unrecognized call type.
func (c *Codec) ExpectedSize(callType CallType) (int, bool) {
	peerSet := func(k int) int { return 4 + k*wirePeerSize } // count + k peers
	switch callType {
	case CallPing, CallBroadcast:
		return headerPrefixSize + wirePeerSize, true
	case CallStore:
		return headerPrefixSize + wirePeerSize + 32 + peerSet(c.K), true
	case CallFindNode, CallFindValue:
		return headerPrefixSize + wirePeerSize + 32, true
	case CallPingResp, CallStoreResp:
		return headerPrefixSize + wirePeerSize + 1, true
	case CallFindNodeResp:
		return headerPrefixSize + wirePeerSize + 1 + peerSet(c.K), true
	case CallFindValueResp:
		return headerPrefixSize + wirePeerSize + 1 + (32 + peerSet(c.K)) + peerSet(c.K), true
	default:
		return 0, false
	}
}

// Encode serializes msg to its full wire form, including header.
func (c *Codec) Encode(msg Message) ([]byte, error) {
	var body bytes.Buffer

	if err := encodePeer(&body, msg.CallerPeer()); err != nil {
		return nil, err
	}

	switch m := msg.(type) {
	case Ping, Broadcast:
		// no additional body
	case Store:
		c.writeKeyValue(&body, m.Key, m.Providers)
	case Find:
		c.writeID(&body, m.Target)
	case Response:
		body.WriteByte(boolByte(m.Success))
	case FindNodeResponse:
		body.WriteByte(0) // found_key always false
		c.writePeerSet(&body, m.Closest)
	case FindValueResponse:
		body.WriteByte(boolByte(m.Found))
		key := m.Key
		if key == nil {
			key = nodeid.New(make([]byte, 32))
		}
		c.writeKeyValue(&body, key, m.Value)
		c.writePeerSet(&body, m.Closest)
	default:
		return nil, errors.Errorf("rpcwire: unsupported message type %T", msg)
	}

	size, ok := c.ExpectedSize(msg.Type())
	if !ok {
		return nil, errors.Errorf("rpcwire: unknown call type %d", msg.Type())
	}
	if size != headerPrefixSize+body.Len() {
		return nil, errors.Errorf("rpcwire: internal size mismatch for call type %d: computed %d, expected %d", msg.Type(), headerPrefixSize+body.Len(), size)
	}

	var out bytes.Buffer
	out.Write(Magic[:])
	sizeBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBytes, uint32(size))
	out.Write(sizeBytes)
	out.WriteByte(byte(msg.Type()))
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (c *Codec) writeID(buf *bytes.Buffer, id nodeid.ID) {
	padded := make([]byte, 32)
	copy(padded, id)
	buf.Write(padded)
}

func (c *Codec) writePeerSet(buf *bytes.Buffer, peers []peer.Peer) {
	count := len(peers)
	if count > c.K {
		count = c.K
	}
	countBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBytes, uint32(count))
	buf.Write(countBytes)

	for i := 0; i < c.K; i++ {
		if i < count {
			_ = encodePeer(buf, peers[i])
		} else {
			_ = encodePeer(buf, peer.Peer{ID: nodeid.New(make([]byte, 32))})
		}
	}
}

func (c *Codec) writeKeyValue(buf *bytes.Buffer, key nodeid.ID, providers []peer.Peer) {
	c.writeID(buf, key)
	c.writePeerSet(buf, providers)
}

func (c *Codec) readPeerSet(r io.Reader) ([]peer.Peer, error) {
	countBytes := make([]byte, 4)
	if _, err := io.ReadFull(r, countBytes); err != nil {
		return nil, errors.Wrap(ErrWireFormat, err.Error())
	}
	count := int(binary.LittleEndian.Uint32(countBytes))

	all := make([]peer.Peer, c.K)
	for i := 0; i < c.K; i++ {
		p, err := decodePeer(r)
		if err != nil {
			return nil, err
		}
		all[i] = p
	}
	if count < 0 || count > c.K {
		return nil, errors.Wrap(ErrWireFormat, "provider/closest count out of range")
	}
	return all[:count], nil
}

func (c *Codec) readID(r io.Reader) (nodeid.ID, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrap(ErrWireFormat, err.Error())
	}
	return nodeid.New(raw), nil
}

// ReadMessage reads one envelope + body from r: it reads the 9-byte
// header prefix, validates the magic, looks up the expected fixed size for
// the claimed call type, reads exactly the remaining bytes, and decodes.
// A magic or size mismatch returns ErrWireFormat and the caller is
// expected to close the connection without responding, per spec.md §4.4.
func (c *Codec) ReadMessage(r io.Reader) (Message, error) {
	prefix := make([]byte, headerPrefixSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, errors.Wrap(ErrWireFormat, err.Error())
	}

	if !bytes.Equal(prefix[0:4], Magic[:]) {
		return nil, errors.Wrap(ErrWireFormat, "magic mismatch")
	}
	claimedSize := binary.LittleEndian.Uint32(prefix[4:8])
	callType := CallType(prefix[8])

	expected, ok := c.ExpectedSize(callType)
	if !ok {
		return nil, errors.Wrapf(ErrWireFormat, "unknown call type %d", callType)
	}
	if int(claimedSize) != expected {
		return nil, errors.Wrapf(ErrWireFormat, "size mismatch for call type %d: claimed %d, expected %d", callType, claimedSize, expected)
	}

	remaining := expected - headerPrefixSize
	body := io.LimitReader(r, int64(remaining))

	caller, err := decodePeer(body)
	if err != nil {
		return nil, err
	}

	switch callType {
	case CallPing:
		return Ping{Caller: caller}, nil
	case CallBroadcast:
		return Broadcast{Caller: caller}, nil
	case CallStore:
		key, err := c.readID(body)
		if err != nil {
			return nil, err
		}
		providers, err := c.readPeerSet(body)
		if err != nil {
			return nil, err
		}
		return Store{Caller: caller, Key: key, Providers: providers}, nil
	case CallFindNode, CallFindValue:
		target, err := c.readID(body)
		if err != nil {
			return nil, err
		}
		return Find{Caller: caller, CallKind: callType, Target: target}, nil
	case CallPingResp, CallStoreResp:
		flag := make([]byte, 1)
		if _, err := io.ReadFull(body, flag); err != nil {
			return nil, errors.Wrap(ErrWireFormat, err.Error())
		}
		return Response{Caller: caller, CallKind: callType, Success: flag[0] != 0}, nil
	case CallFindNodeResp:
		flag := make([]byte, 1)
		if _, err := io.ReadFull(body, flag); err != nil {
			return nil, errors.Wrap(ErrWireFormat, err.Error())
		}
		closest, err := c.readPeerSet(body)
		if err != nil {
			return nil, err
		}
		return FindNodeResponse{Caller: caller, Closest: closest}, nil
	case CallFindValueResp:
		flag := make([]byte, 1)
		if _, err := io.ReadFull(body, flag); err != nil {
			return nil, errors.Wrap(ErrWireFormat, err.Error())
		}
		key, err := c.readID(body)
		if err != nil {
			return nil, err
		}
		value, err := c.readPeerSet(body)
		if err != nil {
			return nil, err
		}
		closest, err := c.readPeerSet(body)
		if err != nil {
			return nil, err
		}
		return FindValueResponse{Caller: caller, Found: flag[0] != 0, Key: key, Value: value, Closest: closest}, nil
	default:
		return nil, errors.Wrapf(ErrWireFormat, "unhandled call type %d", callType)
	}
}
