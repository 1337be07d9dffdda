package vswitch

import (
	"context"
	"fmt"
	"sync"

	"github.com/c2h5oh/datasize"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// SwitchManager manages multiple isolated virtual switches (VLANs), one per
// listen port. Each switch owns its own table and serve loop.
type SwitchManager struct {
	host        string
	maxEntries  int
	readBuffer  datasize.ByteSize
	writeBuffer datasize.ByteSize
	log         *logrus.Entry

	switches map[int]*VirtualSwitch // bound port -> switch
	mutex    sync.RWMutex
}

// ManagerConfig holds the settings shared by every VLAN
type ManagerConfig struct {
	Host        string
	MaxEntries  int
	ReadBuffer  datasize.ByteSize
	WriteBuffer datasize.ByteSize
}

// NewSwitchManager creates a new switch manager
func NewSwitchManager(cfg ManagerConfig, log *logrus.Entry) *SwitchManager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &SwitchManager{
		host:        cfg.Host,
		maxEntries:  cfg.MaxEntries,
		readBuffer:  cfg.ReadBuffer,
		writeBuffer: cfg.WriteBuffer,
		log:         log,
		switches:    make(map[int]*VirtualSwitch),
	}
}

// AddVLAN binds a new isolated switch on port and returns the port it was
// bound to. Port 0 picks an ephemeral port.
func (sm *SwitchManager) AddVLAN(port int) (int, error) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if _, exists := sm.switches[port]; exists && port != 0 {
		return 0, fmt.Errorf("VLAN already exists on port %d", port)
	}

	vs, err := Listen(ListenConfig{
		Host:        sm.host,
		Port:        port,
		MaxEntries:  sm.maxEntries,
		ReadBuffer:  sm.readBuffer,
		WriteBuffer: sm.writeBuffer,
	}, sm.log)
	if err != nil {
		return 0, fmt.Errorf("failed to create VLAN on port %d: %w", port, err)
	}

	bound := vs.LocalPort()
	vs.log = sm.log.WithField("vlan", bound)
	sm.switches[bound] = vs

	sm.log.WithField("vlan", bound).Info("Created VLAN")
	return bound, nil
}

// StartAll starts the serve loop of every VLAN
func (sm *SwitchManager) StartAll(ctx context.Context) error {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	for port, vs := range sm.switches {
		if err := vs.Start(ctx); err != nil {
			return fmt.Errorf("failed to start VLAN on port %d: %w", port, err)
		}
	}

	return nil
}

// StopAll stops all VLANs
func (sm *SwitchManager) StopAll() {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	for _, vs := range sm.switches {
		vs.Stop()
	}
}

// GetVLANs returns the bound ports of all VLANs in ascending order
func (sm *SwitchManager) GetVLANs() []int {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	ports := make([]int, 0, len(sm.switches))
	for port := range sm.switches {
		ports = append(ports, port)
	}
	slices.Sort(ports)

	return ports
}

// GetStats returns the sum of every VLAN's statistics and the per-VLAN
// breakdown.
func (sm *SwitchManager) GetStats() (Stats, map[int]Stats) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	var total Stats
	perVLAN := make(map[int]Stats, len(sm.switches))
	for port, vs := range sm.switches {
		s := vs.GetStats()
		perVLAN[port] = s
		total = total.Add(s)
	}

	return total, perVLAN
}
