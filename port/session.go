// Package vport implements the edge agent that bridges one local TAP
// interface to a remote vswitch over UDP.
package vport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"udp-vswitch/config"
)

// ErrSessionClosed is returned by Run on a session that was already closed
var ErrSessionClosed = errors.New("session closed")

// Device is the local virtual interface: each Read returns one whole frame
// and each Write sends one.
type Device interface {
	io.ReadWriteCloser
	Name() string
}

// PacketConn is the datagram socket a session talks to the switch over.
// *net.UDPConn satisfies it.
type PacketConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	LocalAddr() net.Addr
	Close() error
}

// Session ties a device to the switch endpoint. The device, socket and
// switch address are fixed for the session's lifetime; the uplink and
// downlink pumps only read them.
type Session struct {
	dev    Device
	conn   PacketConn
	remote netip.AddrPort
	log    *logrus.Entry

	// Statistics
	framesSent     atomic.Uint64
	framesReceived atomic.Uint64
	bytesSent      atomic.Uint64
	bytesReceived  atomic.Uint64
	foreign        atomic.Uint64
	rejected       atomic.Uint64

	mutex  sync.Mutex
	closed bool
}

// NewSession creates a session over an already open device and socket
func NewSession(dev Device, conn PacketConn, switchAddr netip.AddrPort, log *logrus.Entry) *Session {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Session{
		dev:    dev,
		conn:   conn,
		remote: netip.AddrPortFrom(switchAddr.Addr().Unmap(), switchAddr.Port()),
		log:    log.WithField("device", dev.Name()),
	}
}

// Dial resolves the switch named in cfg and opens the session socket
func Dial(cfg *config.Port, dev Device, log *logrus.Entry) (*Session, error) {
	target := net.JoinHostPort(cfg.SwitchHost, strconv.Itoa(cfg.SwitchPort))
	raddr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve switch %s: %w", target, err)
	}

	var laddr *net.UDPAddr
	if cfg.LocalAddr != "" {
		if laddr, err = net.ResolveUDPAddr("udp", cfg.LocalAddr); err != nil {
			return nil, fmt.Errorf("failed to resolve local address %s: %w", cfg.LocalAddr, err)
		}
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to open socket: %w", err)
	}

	if cfg.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(int(cfg.ReadBuffer.Bytes())); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set read buffer: %w", err)
		}
	}
	if cfg.WriteBuffer > 0 {
		if err := conn.SetWriteBuffer(int(cfg.WriteBuffer.Bytes())); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set write buffer: %w", err)
		}
	}

	return NewSession(dev, conn, raddr.AddrPort(), log), nil
}

// SwitchAddr returns the switch endpoint
func (s *Session) SwitchAddr() netip.AddrPort {
	return s.remote
}

// Close releases the device and the socket. Closing unblocks both pumps.
func (s *Session) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	devErr := s.dev.Close()
	connErr := s.conn.Close()

	s.log.WithFields(logrus.Fields{
		"frames_sent":     s.framesSent.Load(),
		"bytes_sent":      s.bytesSent.Load(),
		"frames_received": s.framesReceived.Load(),
		"bytes_received":  s.bytesReceived.Load(),
	}).Info("Session closed")

	return errors.Join(devErr, connErr)
}

// IsClosed returns true if the session is closed
func (s *Session) IsClosed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closed
}

// Stats counts traffic between a session and its switch
type Stats struct {
	FramesSent     uint64
	FramesReceived uint64
	BytesSent      uint64
	BytesReceived  uint64
	// Foreign counts datagrams discarded for not coming from the switch
	Foreign uint64
	// Rejected counts device frames dropped for being runts or oversized
	Rejected uint64
}

// Stats returns the session's counters
func (s *Session) Stats() Stats {
	return Stats{
		FramesSent:     s.framesSent.Load(),
		FramesReceived: s.framesReceived.Load(),
		BytesSent:      s.bytesSent.Load(),
		BytesReceived:  s.bytesReceived.Load(),
		Foreign:        s.foreign.Load(),
		Rejected:       s.rejected.Load(),
	}
}

// String returns a string representation of the session
func (s *Session) String() string {
	return fmt.Sprintf("Session[%s, switch=%s, frames_rx=%d, frames_tx=%d, closed=%v]",
		s.dev.Name(), s.remote, s.framesReceived.Load(), s.framesSent.Load(), s.IsClosed())
}
