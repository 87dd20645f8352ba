// Package icmp encodes ICMP echo requests and decodes echo replies as they
// arrive on a raw IPv4 socket.
package icmp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"time"

	"golang.org/x/net/ipv4"
)

const (
	TypeEchoReply   uint8 = 0
	TypeEchoRequest uint8 = 8

	// HeaderLen is the ICMP echo header: type, code, checksum, id, seq.
	HeaderLen = 8
	// IPv4HeaderLen is the option-less IPv4 header prepended by raw sockets.
	IPv4HeaderLen = 20
	// TimestampLen is the float64 send time leading every payload.
	TimestampLen = 8

	DefaultPayloadSize = 192

	filler = 'Q'
)

// ErrShortPacket is returned when a buffer cannot hold an IPv4 header plus
// the ICMP header.
var ErrShortPacket = errors.New("icmp: packet too short")

// Reply is the decoded ICMP portion of a received datagram.
type Reply struct {
	Source   netip.Addr
	Type     uint8
	Code     uint8
	Checksum uint16
	ID       uint16
	Seq      uint16
	// Sent is the send time embedded in the payload; zero when the payload
	// was truncated.
	Sent time.Time
}

// IsEchoReply reports whether the message is an echo reply.
func (r Reply) IsEchoReply() bool {
	return r.Type == TypeEchoReply && r.Code == 0
}

// EncodeRequest builds an echo request whose payload is the send timestamp
// followed by filler bytes up to payloadSize. payloadSize below the
// timestamp width is raised to it.
func EncodeRequest(id, seq uint16, payloadSize int, sent time.Time) []byte {
	if payloadSize < TimestampLen {
		payloadSize = TimestampLen
	}
	b := make([]byte, HeaderLen+payloadSize)
	b[0] = TypeEchoRequest
	b[1] = 0
	binary.BigEndian.PutUint16(b[4:6], id)
	binary.BigEndian.PutUint16(b[6:8], seq)
	binary.LittleEndian.PutUint64(b[HeaderLen:HeaderLen+TimestampLen], math.Float64bits(epochSeconds(sent)))
	for i := HeaderLen + TimestampLen; i < len(b); i++ {
		b[i] = filler
	}
	binary.BigEndian.PutUint16(b[2:4], Checksum(b))
	return b
}

// DecodeReply parses a datagram read from a raw ICMP socket: an IPv4 header
// followed by the ICMP message.
func DecodeReply(b []byte) (Reply, error) {
	if len(b) < IPv4HeaderLen+HeaderLen {
		return Reply{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	src, hdrLen, err := ParseIPv4Header(b)
	if err != nil {
		return Reply{}, err
	}
	if len(b) < hdrLen+HeaderLen {
		return Reply{}, fmt.Errorf("%w: %d bytes after %d byte header", ErrShortPacket, len(b)-hdrLen, hdrLen)
	}
	msg := b[hdrLen:]
	reply := Reply{
		Source:   src,
		Type:     msg[0],
		Code:     msg[1],
		Checksum: binary.BigEndian.Uint16(msg[2:4]),
		ID:       binary.BigEndian.Uint16(msg[4:6]),
		Seq:      binary.BigEndian.Uint16(msg[6:8]),
	}
	if len(msg) >= HeaderLen+TimestampLen {
		bits := binary.LittleEndian.Uint64(msg[HeaderLen : HeaderLen+TimestampLen])
		reply.Sent = fromEpochSeconds(math.Float64frombits(bits))
	}
	return reply, nil
}

// ParseIPv4Header returns the source address and header length of the IPv4
// header leading b.
func ParseIPv4Header(b []byte) (netip.Addr, int, error) {
	h, err := ipv4.ParseHeader(b)
	if err != nil {
		return netip.Addr{}, 0, fmt.Errorf("%w: %v", ErrShortPacket, err)
	}
	if h.Len < IPv4HeaderLen {
		return netip.Addr{}, 0, fmt.Errorf("%w: header length %d", ErrShortPacket, h.Len)
	}
	src, ok := netip.AddrFromSlice(h.Src.To4())
	if !ok {
		return netip.Addr{}, 0, fmt.Errorf("icmp: invalid source address %v", h.Src)
	}
	return src, h.Len, nil
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromEpochSeconds(s float64) time.Time {
	if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return time.Time{}
	}
	return time.Unix(0, int64(s*float64(time.Second)))
}
