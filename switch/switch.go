package vswitch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"github.com/c2h5oh/datasize"
	"github.com/sirupsen/logrus"
)

// PacketConn is the datagram socket a switch serves on. *net.UDPConn
// satisfies it.
type PacketConn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	LocalAddr() net.Addr
	Close() error
}

// ListenConfig describes the socket and table of one switch
type ListenConfig struct {
	Host        string
	Port        int
	MaxEntries  int
	ReadBuffer  datasize.ByteSize
	WriteBuffer datasize.ByteSize
}

// VirtualSwitch is an Ethernet learning switch whose ports are UDP
// endpoints. Every datagram is a raw Ethernet frame.
//
// All table access happens on the goroutine running Serve, so the table
// needs no locking.
type VirtualSwitch struct {
	conn  PacketConn
	table *ForwardingTable
	stats counters
	log   *logrus.Entry

	// broadcast fan-out scratch, reused by the serve loop
	targets []netip.AddrPort

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewVirtualSwitch creates a switch serving on conn
func NewVirtualSwitch(conn PacketConn, maxEntries int, log *logrus.Entry) *VirtualSwitch {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	table := NewForwardingTable(maxEntries)
	return &VirtualSwitch{
		conn:    conn,
		table:   table,
		log:     log,
		targets: make([]netip.AddrPort, 0, table.Cap()),
	}
}

// Listen binds a UDP socket on cfg.Host:cfg.Port and returns a switch
// serving on it. An empty host binds all local addresses.
func Listen(cfg ListenConfig, log *logrus.Entry) (*VirtualSwitch, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
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

	return NewVirtualSwitch(conn, cfg.MaxEntries, log), nil
}

// LocalPort returns the UDP port the switch is bound to, or 0 if unknown
func (vs *VirtualSwitch) LocalPort() int {
	if addr, ok := vs.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

// Start runs Serve in the background until Stop is called
func (vs *VirtualSwitch) Start(ctx context.Context) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.done != nil {
		return fmt.Errorf("switch on %s already started", vs.conn.LocalAddr())
	}

	ctx, cancel := context.WithCancel(ctx)
	vs.cancel = cancel
	vs.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		if err := vs.Serve(ctx); err != nil {
			vs.log.WithError(err).Error("Switch loop terminated")
		}
	}(vs.done)

	return nil
}

// Stop stops a started switch and waits for its loop to exit. A switch that
// was never started just has its socket closed.
func (vs *VirtualSwitch) Stop() {
	vs.mu.Lock()
	cancel, done := vs.cancel, vs.done
	vs.mu.Unlock()

	if cancel == nil {
		_ = vs.conn.Close()
		return
	}

	cancel()
	<-done

	if vs.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		for _, e := range vs.MACTable() {
			vs.log.WithFields(logrus.Fields{"mac": e.MAC, "endpoint": e.Endpoint}).Debug("MAC table entry")
		}
	}
	vs.log.Info("Virtual switch stopped")
}

// Serve receives and forwards frames until ctx is cancelled, at which point
// the socket is closed and Serve returns nil. Receive errors on a live
// socket are logged and the loop carries on.
func (vs *VirtualSwitch) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = vs.conn.Close()
	})
	defer stop()

	buf := getFrameBuffer()
	defer putFrameBuffer(buf)

	vs.log.WithField("addr", vs.conn.LocalAddr()).Info("Switch listening")

	for {
		n, from, err := vs.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("receive: %w", err)
			}
			// No backoff: a persistently failing socket spins here.
			vs.stats.recvErrors.Add(1)
			vs.log.WithError(err).Warn("Receive failed")
			continue
		}

		vs.processFrame(Frame(buf[:n]), from)
	}
}

// processFrame learns the source address of one frame and forwards it
func (vs *VirtualSwitch) processFrame(frame Frame, from netip.AddrPort) {
	from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())

	vs.stats.total.Add(1)
	vs.stats.bytesIn.Add(uint64(len(frame)))

	dst, src, err := frame.Addresses()
	if err != nil {
		vs.stats.malformed.Add(1)
		vs.log.WithField("endpoint", from).WithError(err).Debug("Dropped malformed frame")
		return
	}

	if vs.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		vs.log.WithFields(logrus.Fields{
			"endpoint": from,
			"src":      src,
			"dst":      dst,
			"size":     len(frame),
		}).Trace("Received frame")
	}

	vs.learnMAC(src, from)

	if dst.IsBroadcast() {
		vs.stats.broadcast.Add(1)
		vs.floodFrame(frame, src)
		return
	}

	ep, ok := vs.table.Lookup(dst)
	if !ok {
		// Unknown unicast destinations are dropped, never flooded.
		vs.stats.unknown.Add(1)
		vs.log.WithFields(logrus.Fields{
			"dst":       dst,
			"multicast": dst.IsMulticast(),
		}).Trace("Discarded frame for unknown destination")
		return
	}

	vs.stats.unicast.Add(1)
	vs.sendFrame(frame, ep)
}

// learnMAC records the endpoint a source address was seen at
func (vs *VirtualSwitch) learnMAC(mac MAC, from netip.AddrPort) {
	prev, known := vs.table.Lookup(mac)
	if known && prev == from {
		return
	}

	if err := vs.table.Learn(mac, from); err != nil {
		vs.stats.learnFailures.Add(1)
		vs.log.WithFields(logrus.Fields{
			"mac":      mac,
			"endpoint": from,
			"entries":  vs.table.Len(),
		}).WithError(err).Warn("Cannot learn MAC")
		return
	}
	vs.stats.macEntries.Store(int64(vs.table.Len()))

	if known {
		vs.log.WithFields(logrus.Fields{"mac": mac, "from": prev, "to": from}).Info("MAC moved")
	} else {
		vs.log.WithFields(logrus.Fields{"mac": mac, "endpoint": from}).Info("Learned MAC")
	}
}

// floodFrame sends frame to the endpoint of every learned address except
// src. A failed send does not stop the rest of the fan-out.
func (vs *VirtualSwitch) floodFrame(frame Frame, src MAC) {
	vs.targets = vs.table.AppendExcept(vs.targets[:0], src)

	failed := 0
	for _, ep := range vs.targets {
		if !vs.sendFrame(frame, ep) {
			failed++
		}
	}

	if failed > 0 {
		vs.log.WithField("src", src).Warnf("Flooded frame to %d endpoints with %d errors", len(vs.targets), failed)
	}
}

// sendFrame writes one datagram, reporting whether it went out
func (vs *VirtualSwitch) sendFrame(frame Frame, ep netip.AddrPort) bool {
	if _, err := vs.conn.WriteToUDPAddrPort(frame, ep); err != nil {
		vs.stats.sendErrors.Add(1)
		vs.log.WithField("endpoint", ep).WithError(err).Warn("Failed to forward frame")
		return false
	}
	vs.stats.sent.Add(1)
	vs.stats.bytesOut.Add(uint64(len(frame)))
	return true
}

// MACTable returns a copy of the forwarding table. It must only be called
// while the switch is not serving, or from the serve goroutine.
func (vs *VirtualSwitch) MACTable() []MACEntry {
	return vs.table.Entries()
}

// GetStats returns current switch statistics. Safe to call while serving.
func (vs *VirtualSwitch) GetStats() Stats {
	return vs.stats.snapshot()
}
