package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	applog "binaural/internal/log"
	"binaural/internal/monitor"
)

// PacketSize is the length in bytes of every stats packet.
const PacketSize = 4 + 8 + 6*8 + 3*8 + 1

// FlagDegraded is set in the flags byte while the session is degraded.
const FlagDegraded = 1 << 0

// ErrSenderClosed is returned by SendSnapshot after Close.
var ErrSenderClosed = errors.New("udp: stats sender closed")

// UDPSender frames monitor snapshots as stats packets and writes them to a
// single target. A missing listener surfaces as write errors: the first one
// after a good packet is logged, later ones are only counted.
type UDPSender struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	packet  bytes.Buffer
	seq     uint32
	sent    uint64
	failed  uint64
	failing bool
}

// NewUDPSender dials targetAddress ("host:port"). No local port is bound.
func NewUDPSender(targetAddress string) (*UDPSender, error) {
	addr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("udp: resolving stats target %q: %w", targetAddress, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp: dialing stats target %q: %w", targetAddress, err)
	}
	applog.Infof("udp: sending stats packets to %s", conn.RemoteAddr())

	s := &UDPSender{conn: conn}
	s.packet.Grow(PacketSize)
	return s, nil
}

// SendSnapshot frames snap under the next sequence number and writes it.
// The sequence advances on failed writes too, so a receiver sees the gap.
func (s *UDPSender) SendSnapshot(snap monitor.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrSenderClosed
	}

	s.seq++
	s.packet.Reset()
	MarshalSnapshot(&s.packet, s.seq, snap)
	if _, err := s.conn.Write(s.packet.Bytes()); err != nil {
		s.failed++
		if !s.failing {
			s.failing = true
			applog.Warnf("udp: stats packet %d to %s failed: %v", s.seq, s.conn.RemoteAddr(), err)
		}
		return fmt.Errorf("udp: sending stats packet %d: %w", s.seq, err)
	}
	if s.failing {
		s.failing = false
		applog.Infof("udp: stats delivery to %s resumed (%d packets lost so far)", s.conn.RemoteAddr(), s.failed)
	}
	s.sent++
	return nil
}

// Sent is the number of packets written.
func (s *UDPSender) Sent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Failed is the number of packets whose write failed.
func (s *UDPSender) Failed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Close releases the socket. Further sends return ErrSenderClosed.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	applog.Debugf("udp: stats sender closed after %d packets (%d failed)", s.sent, s.failed)
	if err != nil {
		return fmt.Errorf("udp: closing stats sender: %w", err)
	}
	return nil
}

/*
UDP Packet Structure (BigEndian)

+------------------------------------------------------------------------------+
| Field             | Data Type | Size (Bytes) | Description                     |
|-------------------|-----------|--------------|---------------------------------|
| Sequence Number   | uint32    | 4            | Monotonically increasing        |
| Timestamp         | int64     | 8            | Nanoseconds since epoch         |
| Blocks            | uint64    | 8            | Blocks processed by the worker  |
| Misses            | uint64    | 8            | Blocks past their deadline      |
| Underruns         | uint64    | 8            | Silent blocks sent to render    |
| Input Dropped     | uint64    | 8            | Capture blocks evicted          |
| Output Dropped    | uint64    | 8            | Rendered blocks evicted         |
| Clipped           | uint64    | 8            | Output samples clamped          |
| Last              | int64     | 8            | Last block time (ns)            |
| Worst             | int64     | 8            | Worst block time (ns)           |
| Budget            | int64     | 8            | Per-block deadline (ns)         |
| Flags             | uint8     | 1            | bit 0: degraded                 |
+------------------------------------------------------------------------------+
*/

// MarshalSnapshot appends the packet encoding of s to buf.
func MarshalSnapshot(buf *bytes.Buffer, seq uint32, s monitor.Snapshot) {
	var flags uint8
	if s.Degraded {
		flags |= FlagDegraded
	}
	var scratch [8]byte
	binary.BigEndian.PutUint32(scratch[:4], seq)
	buf.Write(scratch[:4])
	for _, v := range [...]uint64{
		uint64(s.Time.UnixNano()),
		s.Blocks,
		s.Misses,
		s.Underruns,
		s.InputDropped,
		s.OutputDropped,
		s.Clipped,
		uint64(s.Last),
		uint64(s.Worst),
		uint64(s.Budget),
	} {
		binary.BigEndian.PutUint64(scratch[:], v)
		buf.Write(scratch[:])
	}
	buf.WriteByte(flags)
}

// UnmarshalSnapshot decodes a packet produced by MarshalSnapshot.
func UnmarshalSnapshot(packet []byte) (uint32, monitor.Snapshot, error) {
	var s monitor.Snapshot
	if len(packet) != PacketSize {
		return 0, s, fmt.Errorf("stats packet is %d bytes, want %d", len(packet), PacketSize)
	}
	seq := binary.BigEndian.Uint32(packet)
	field := func(i int) uint64 { return binary.BigEndian.Uint64(packet[4+8*i:]) }

	s.Time = time.Unix(0, int64(field(0)))
	s.Blocks = field(1)
	s.Misses = field(2)
	s.Underruns = field(3)
	s.InputDropped = field(4)
	s.OutputDropped = field(5)
	s.Clipped = field(6)
	s.Last = time.Duration(field(7))
	s.Worst = time.Duration(field(8))
	s.Budget = time.Duration(field(9))
	s.Degraded = packet[PacketSize-1]&FlagDegraded != 0
	return seq, s, nil
}
