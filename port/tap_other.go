//go:build !linux

package vport

import (
	"fmt"

	"github.com/songgao/water"
)

// OpenTAP allocates a TAP interface. Only Linux honours the requested name.
func OpenTAP(name string) (Device, error) {
	ifce, err := water.New(water.Config{DeviceType: water.TAP})
	if err != nil {
		return nil, fmt.Errorf("failed to allocate TAP device: %w", err)
	}
	return ifce, nil
}
