//go:build linux

package vport

import (
	"fmt"

	"github.com/songgao/water"
)

// OpenTAP allocates a TAP interface. An empty name lets the kernel pick one.
// The interface still has to be configured and brought up separately.
func OpenTAP(name string) (Device, error) {
	cfg := water.Config{DeviceType: water.TAP}
	cfg.Name = name

	ifce, err := water.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate TAP device %q: %w", name, err)
	}
	return ifce, nil
}
