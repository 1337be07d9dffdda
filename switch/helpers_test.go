package vswitch

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	macA = MAC{0x52, 0x54, 0x00, 0x00, 0x00, 0x0a}
	macB = MAC{0x52, 0x54, 0x00, 0x00, 0x00, 0x0b}
	macC = MAC{0x52, 0x54, 0x00, 0x00, 0x00, 0x0c}
	macD = MAC{0x52, 0x54, 0x00, 0x00, 0x00, 0x0d}

	epA = netip.MustParseAddrPort("10.0.0.1:40001")
	epB = netip.MustParseAddrPort("10.0.0.2:40002")
	epC = netip.MustParseAddrPort("10.0.0.3:40003")
	epD = netip.MustParseAddrPort("10.0.0.4:40004")
)

var errSendFailed = errors.New("send failed")

// buildFrame serializes an IPv4-typed Ethernet frame carrying payload
func buildFrame(t testing.TB, dst, src MAC, payload []byte) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		DstMAC:       net.HardwareAddr(dst[:]),
		SrcMAC:       net.HardwareAddr(src[:]),
		EthernetType: layers.EthernetTypeIPv4,
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(payload)); err != nil {
		t.Fatalf("Failed to serialize frame: %v", err)
	}
	return buf.Bytes()
}

type datagram struct {
	data []byte
	addr netip.AddrPort
	err  error
}

// mockPacketConn implements PacketConn for testing. Inbound datagrams are
// queued on a channel; outbound ones are recorded.
type mockPacketConn struct {
	inbound chan datagram
	closed  chan struct{}
	once    sync.Once

	mu     sync.Mutex
	sent   []datagram
	failTo map[netip.AddrPort]bool
}

func newMockPacketConn() *mockPacketConn {
	return &mockPacketConn{
		inbound: make(chan datagram, 16),
		closed:  make(chan struct{}),
		failTo:  make(map[netip.AddrPort]bool),
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
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.closed:
		return 0, net.ErrClosed
	default:
	}
	if m.failTo[addr] {
		return 0, errSendFailed
	}
	m.sent = append(m.sent, datagram{data: append([]byte(nil), b...), addr: addr})
	return len(b), nil
}

func (m *mockPacketConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}
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

func (m *mockPacketConn) Sent() []datagram {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]datagram(nil), m.sent...)
}

// waitForSent polls until at least n datagrams were sent
func (m *mockPacketConn) waitForSent(t *testing.T, n int) []datagram {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sent := m.Sent(); len(sent) >= n {
			return sent
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d datagrams to be sent, got %d", n, len(m.Sent()))
	return nil
}
