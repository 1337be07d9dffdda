package vport

import (
	"net"
	"net/netip"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	switchAddr  = netip.MustParseAddrPort("192.0.2.1:9999")
	foreignAddr = netip.MustParseAddrPort("192.0.2.66:9999")

	macA = net.HardwareAddr{0x52, 0x54, 0x00, 0x00, 0x00, 0x0a}
	macB = net.HardwareAddr{0x52, 0x54, 0x00, 0x00, 0x00, 0x0b}

	broadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

func buildFrame(t testing.TB, dst, src net.HardwareAddr, payload []byte) []byte {
	t.Helper()

	eth := &layers.Ethernet{DstMAC: dst, SrcMAC: src, EthernetType: layers.EthernetTypeARP}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(payload)); err != nil {
		t.Fatalf("Failed to serialize frame: %v", err)
	}
	return buf.Bytes()
}

// mockDevice implements Device for testing. Frames queued on toRead are
// returned by Read; closing toRead makes Read fail with readErr, after
// calling onReadErr if set.
type mockDevice struct {
	name      string
	toRead    chan []byte
	written   chan []byte
	readErr   error
	onReadErr func()
	writeErr  error

	closed chan struct{}
	once   sync.Once
}

func newMockDevice(name string) *mockDevice {
	return &mockDevice{
		name:    name,
		toRead:  make(chan []byte, 16),
		written: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (d *mockDevice) Name() string { return d.name }

func (d *mockDevice) Read(b []byte) (int, error) {
	select {
	case f, ok := <-d.toRead:
		if !ok {
			if d.onReadErr != nil {
				d.onReadErr()
			}
			return 0, d.readErr
		}
		return copy(b, f), nil
	case <-d.closed:
		return 0, os.ErrClosed
	}
}

func (d *mockDevice) Write(b []byte) (int, error) {
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	select {
	case <-d.closed:
		return 0, os.ErrClosed
	case d.written <- append([]byte(nil), b...):
		return len(b), nil
	}
}

func (d *mockDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func (d *mockDevice) isClosed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}

// nextWritten waits for the next frame written to the device
func (d *mockDevice) nextWritten(t *testing.T) []byte {
	t.Helper()

	select {
	case f := <-d.written:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for a frame on %s", d.name)
		return nil
	}
}

type datagram struct {
	data []byte
	addr netip.AddrPort
	err  error
}

// mockPacketConn implements PacketConn for testing
type mockPacketConn struct {
	inbound chan datagram
	sent    chan datagram
	closed  chan struct{}
	once    sync.Once
}

func newMockPacketConn() *mockPacketConn {
	return &mockPacketConn{
		inbound: make(chan datagram, 16),
		sent:    make(chan datagram, 16),
		closed:  make(chan struct{}),
	}
}

func (m *mockPacketConn) ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error) {
	select {
	case d := <-m.inbound:
		if d.err != nil {
			return 0, netip.AddrPort{}, d.err
		}
		return copy(b, d.data), d.addr, nil
	case <-m.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	}
}

func (m *mockPacketConn) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	select {
	case <-m.closed:
		return 0, net.ErrClosed
	case m.sent <- datagram{data: append([]byte(nil), b...), addr: addr}:
		return len(b), nil
	}
}

func (m *mockPacketConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (m *mockPacketConn) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

func (m *mockPacketConn) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *mockPacketConn) nextSent(t *testing.T) datagram {
	t.Helper()

	select {
	case d := <-m.sent:
		return d
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for a datagram")
		return datagram{}
	}
}
