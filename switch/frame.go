package vswitch

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket/layers"
	"github.com/songgao/packets/ethernet"
)

const (
	// MaxFrameSize is the largest Ethernet frame carried over the overlay
	MaxFrameSize = 1518

	// HeaderSize is the length of the Ethernet header (dst, src, type)
	HeaderSize = 14

	// MinAddrSize is the shortest datagram the switch accepts: it must at
	// least carry the destination and source addresses.
	MinAddrSize = 12
)

var (
	ErrFrameTooShort = errors.New("frame too short")
	ErrFrameTooLong  = errors.New("frame too long")
)

// MAC is a hardware address stored by value so it can be used as a map key
// without allocating.
type MAC [6]byte

// BroadcastMAC is the Ethernet broadcast address
var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// IsBroadcast returns true for the all-ones address
func (m MAC) IsBroadcast() bool {
	return m == BroadcastMAC
}

// IsMulticast returns true if the group bit is set
func (m MAC) IsMulticast() bool {
	return m[0]&0x01 == 1
}

func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}

// Frame is a raw Ethernet frame exactly as it travels in a UDP payload.
type Frame []byte

// Addresses returns the destination and source hardware addresses. Only the
// first MinAddrSize bytes are required; the type field is not inspected.
func (f Frame) Addresses() (dst, src MAC, err error) {
	if len(f) < MinAddrSize {
		return dst, src, fmt.Errorf("%w: %d bytes (minimum %d)", ErrFrameTooShort, len(f), MinAddrSize)
	}
	ef := ethernet.Frame(f)
	copy(dst[:], ef.Destination())
	copy(src[:], ef.Source())
	return dst, src, nil
}

// EtherType returns the frame's type field, or false when the frame is too
// short to carry one.
func (f Frame) EtherType() (layers.EthernetType, bool) {
	if len(f) < HeaderSize {
		return 0, false
	}
	ef := ethernet.Frame(f)
	// 802.1Q tags push the type field back
	if len(f) < HeaderSize+int(ef.Tagging()) {
		return 0, false
	}
	et := ef.Ethertype()
	return layers.EthernetType(uint16(et[0])<<8 | uint16(et[1])), true
}

// Validate checks the frame against the Ethernet size limits
func (f Frame) Validate() error {
	if len(f) < HeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(f))
	}
	if len(f) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLong, len(f))
	}
	return nil
}

// String returns a string representation of the frame
func (f Frame) String() string {
	dst, src, err := f.Addresses()
	if err != nil {
		return fmt.Sprintf("Frame[malformed, len=%d]", len(f))
	}
	et, ok := f.EtherType()
	if !ok {
		return fmt.Sprintf("Frame[%s -> %s, len=%d]", src, dst, len(f))
	}
	return fmt.Sprintf("Frame[%s -> %s, type=%s, len=%d]", src, dst, et, len(f))
}
