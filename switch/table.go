package vswitch

import (
	"errors"
	"net/netip"
)

// DefaultMaxEntries is the forwarding table capacity used when none is
// configured.
const DefaultMaxEntries = 256

// ErrTableFull is returned by Learn when a new address does not fit
var ErrTableFull = errors.New("forwarding table full")

// MACEntry is one learned address and the endpoint it was last seen at
type MACEntry struct {
	MAC      MAC
	Endpoint netip.AddrPort
}

// ForwardingTable maps hardware addresses to the UDP endpoint they were last
// seen at. Entries never expire; they only change when overwritten.
//
// A ForwardingTable is not safe for concurrent use. The switch loop that
// owns it is its only reader and writer.
type ForwardingTable struct {
	entries    map[MAC]netip.AddrPort
	maxEntries int
}

// NewForwardingTable creates a table that holds at most maxEntries distinct
// addresses.
func NewForwardingTable(maxEntries int) *ForwardingTable {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &ForwardingTable{
		entries:    make(map[MAC]netip.AddrPort, maxEntries),
		maxEntries: maxEntries,
	}
}

// Learn records that mac was seen at endpoint, replacing any earlier
// endpoint. A new address is refused with ErrTableFull once the table is at
// capacity.
func (t *ForwardingTable) Learn(mac MAC, endpoint netip.AddrPort) error {
	if _, ok := t.entries[mac]; !ok && len(t.entries) >= t.maxEntries {
		return ErrTableFull
	}
	t.entries[mac] = endpoint
	return nil
}

// Lookup returns the endpoint last recorded for mac
func (t *ForwardingTable) Lookup(mac MAC) (netip.AddrPort, bool) {
	ep, ok := t.entries[mac]
	return ep, ok
}

// EnumerateExcept returns the endpoint of every entry whose address is not
// mac, in no particular order.
func (t *ForwardingTable) EnumerateExcept(mac MAC) []netip.AddrPort {
	return t.AppendExcept(make([]netip.AddrPort, 0, len(t.entries)), mac)
}

// AppendExcept is EnumerateExcept appending into dst.
func (t *ForwardingTable) AppendExcept(dst []netip.AddrPort, mac MAC) []netip.AddrPort {
	for key, ep := range t.entries {
		if key != mac {
			dst = append(dst, ep)
		}
	}
	return dst
}

// Len returns the number of learned addresses
func (t *ForwardingTable) Len() int {
	return len(t.entries)
}

// Cap returns the maximum number of addresses the table accepts
func (t *ForwardingTable) Cap() int {
	return t.maxEntries
}

// Entries returns a copy of the table contents
func (t *ForwardingTable) Entries() []MACEntry {
	out := make([]MACEntry, 0, len(t.entries))
	for mac, ep := range t.entries {
		out = append(out, MACEntry{MAC: mac, Endpoint: ep})
	}
	return out
}
