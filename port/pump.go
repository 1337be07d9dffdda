package vport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	vswitch "udp-vswitch/switch"
)

// Run pumps frames between the device and the switch until either
// direction fails or ctx is cancelled. Both directions stop together: the
// first pump to exit cancels the other by closing the session. Run returns
// the error that ended the first pump, or nil when the pumps only stopped
// because ctx was cancelled.
func (s *Session) Run(ctx context.Context) error {
	if s.IsClosed() {
		return ErrSessionClosed
	}

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() {
		_ = s.Close()
	})
	defer stop()

	s.log.WithFields(logrus.Fields{
		"switch": s.remote,
		"local":  s.conn.LocalAddr(),
	}).Info("Session started")

	g.Go(func() error { return s.uplink(gctx) })
	g.Go(func() error { return s.downlink(gctx) })

	err := g.Wait()
	_ = s.Close()
	return err
}

// stopped reports whether err is the session's own shutdown surfacing in a
// pump. Any other error is a real failure, even if ctx is also done.
func (s *Session) stopped(ctx context.Context, err error) bool {
	if ctx.Err() == nil || !s.IsClosed() {
		return false
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed)
}

// uplink forwards every frame read from the device to the switch. Frames
// outside the Ethernet size limits are dropped; the extra buffer byte
// exposes frames the device truncated.
func (s *Session) uplink(ctx context.Context) error {
	buf := make([]byte, vswitch.MaxFrameSize+1)

	for {
		n, err := s.dev.Read(buf)
		if err != nil {
			if s.stopped(ctx, err) {
				return nil
			}
			return fmt.Errorf("uplink: read from %s: %w", s.dev.Name(), err)
		}
		if n == 0 {
			continue
		}

		frame := vswitch.Frame(buf[:n])
		if err := frame.Validate(); err != nil {
			s.rejected.Add(1)
			s.log.WithError(err).Debug("Dropped frame from device")
			continue
		}

		if _, err := s.conn.WriteToUDPAddrPort(frame, s.remote); err != nil {
			if s.stopped(ctx, err) {
				return nil
			}
			return fmt.Errorf("uplink: send to %s: %w", s.remote, err)
		}

		s.framesSent.Add(1)
		s.bytesSent.Add(uint64(n))
		if s.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
			s.log.WithField("frame", frame).Trace("Sent frame")
		}
	}
}

// downlink writes every datagram received from the switch to the device.
// Datagrams from any other sender are dropped.
func (s *Session) downlink(ctx context.Context) error {
	buf := make([]byte, vswitch.MaxFrameSize)

	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if s.stopped(ctx, err) {
				return nil
			}
			return fmt.Errorf("downlink: receive: %w", err)
		}

		if netip.AddrPortFrom(from.Addr().Unmap(), from.Port()) != s.remote {
			s.foreign.Add(1)
			s.log.WithField("from", from).Debug("Discarded datagram from unknown sender")
			continue
		}
		if n == 0 {
			continue
		}

		if _, err := s.dev.Write(buf[:n]); err != nil {
			if s.stopped(ctx, err) {
				return nil
			}
			return fmt.Errorf("downlink: write to %s: %w", s.dev.Name(), err)
		}

		s.framesReceived.Add(1)
		s.bytesReceived.Add(uint64(n))
		if s.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
			s.log.WithField("frame", vswitch.Frame(buf[:n])).Trace("Received frame")
		}
	}
}
