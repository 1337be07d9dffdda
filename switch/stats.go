package vswitch

import "sync/atomic"

// Stats is a snapshot of a switch's counters
type Stats struct {
	TotalFrames     uint64
	UnicastFrames   uint64
	BroadcastFrames uint64
	// DroppedFrames is MalformedFrames plus UnknownFrames
	DroppedFrames   uint64
	MalformedFrames uint64
	UnknownFrames   uint64
	LearnFailures   uint64
	SentFrames      uint64
	SendErrors      uint64
	ReceiveErrors   uint64
	BytesReceived   uint64
	BytesSent       uint64
	MACEntries      int
}

// Add returns the field-wise sum of s and o
func (s Stats) Add(o Stats) Stats {
	return Stats{
		TotalFrames:     s.TotalFrames + o.TotalFrames,
		UnicastFrames:   s.UnicastFrames + o.UnicastFrames,
		BroadcastFrames: s.BroadcastFrames + o.BroadcastFrames,
		DroppedFrames:   s.DroppedFrames + o.DroppedFrames,
		MalformedFrames: s.MalformedFrames + o.MalformedFrames,
		UnknownFrames:   s.UnknownFrames + o.UnknownFrames,
		LearnFailures:   s.LearnFailures + o.LearnFailures,
		SentFrames:      s.SentFrames + o.SentFrames,
		SendErrors:      s.SendErrors + o.SendErrors,
		ReceiveErrors:   s.ReceiveErrors + o.ReceiveErrors,
		BytesReceived:   s.BytesReceived + o.BytesReceived,
		BytesSent:       s.BytesSent + o.BytesSent,
		MACEntries:      s.MACEntries + o.MACEntries,
	}
}

// counters are written by the switch loop and read by whoever reports stats
type counters struct {
	total         atomic.Uint64
	unicast       atomic.Uint64
	broadcast     atomic.Uint64
	malformed     atomic.Uint64
	unknown       atomic.Uint64
	learnFailures atomic.Uint64
	sent          atomic.Uint64
	sendErrors    atomic.Uint64
	recvErrors    atomic.Uint64
	bytesIn       atomic.Uint64
	bytesOut      atomic.Uint64
	macEntries    atomic.Int64
}

func (c *counters) snapshot() Stats {
	malformed := c.malformed.Load()
	unknown := c.unknown.Load()
	return Stats{
		TotalFrames:     c.total.Load(),
		UnicastFrames:   c.unicast.Load(),
		BroadcastFrames: c.broadcast.Load(),
		DroppedFrames:   malformed + unknown,
		MalformedFrames: malformed,
		UnknownFrames:   unknown,
		LearnFailures:   c.learnFailures.Load(),
		SentFrames:      c.sent.Load(),
		SendErrors:      c.sendErrors.Load(),
		ReceiveErrors:   c.recvErrors.Load(),
		BytesReceived:   c.bytesIn.Load(),
		BytesSent:       c.bytesOut.Load(),
		MACEntries:      int(c.macEntries.Load()),
	}
}
