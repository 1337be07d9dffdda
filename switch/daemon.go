package vswitch

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DaemonState is what the PID file records about a background switch
type DaemonState struct {
	PID     int       `yaml:"pid"`
	Ports   []int     `yaml:"ports,flow"`
	Started time.Time `yaml:"started"`
}

// DaemonManager runs the switch in the background and tracks it through a
// PID file holding a DaemonState.
type DaemonManager struct {
	pidFile string
	logFile string
}

// NewDaemonManager creates a new daemon manager
func NewDaemonManager(pidFile, logFile string) *DaemonManager {
	return &DaemonManager{
		pidFile: pidFile,
		logFile: logFile,
	}
}

// Daemonize starts args as a detached child serving ports and records it.
// args must not ask the child to daemonize again.
func (dm *DaemonManager) Daemonize(args []string, ports []int) error {
	if len(args) == 0 {
		return errors.New("no command to daemonize")
	}
	if st, ok := dm.Status(); ok {
		return fmt.Errorf("switch already running as PID %d on ports %v", st.PID, st.Ports)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = os.Environ()

	if dm.logFile != "" {
		if err := os.MkdirAll(filepath.Dir(dm.logFile), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(dm.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()

		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	st := DaemonState{PID: cmd.Process.Pid, Ports: ports, Started: time.Now()}
	if err := dm.writeState(st); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	logrus.WithFields(logrus.Fields{"pid": st.PID, "ports": ports}).Info("Daemon started")
	return nil
}

// Record replaces the ports of the state file with the ports this process
// actually bound. It only touches a file that names the current process.
func (dm *DaemonManager) Record(ports []int) error {
	st, err := dm.readState()
	if err != nil {
		return err
	}
	if st.PID != os.Getpid() {
		return fmt.Errorf("PID file %s belongs to process %d", dm.pidFile, st.PID)
	}
	st.Ports = ports
	return dm.writeState(st)
}

// Stop sends SIGTERM to the daemon and removes its PID file
func (dm *DaemonManager) Stop() error {
	st, err := dm.readState()
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	process, err := os.FindProcess(st.PID)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", st.PID, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM to process %d: %w", st.PID, err)
	}

	dm.remove()
	logrus.WithFields(logrus.Fields{"pid": st.PID, "ports": st.Ports}).Info("Daemon stopped")
	return nil
}

// Status returns the recorded state and whether that process is alive
func (dm *DaemonManager) Status() (DaemonState, bool) {
	st, err := dm.readState()
	if err != nil {
		return DaemonState{}, false
	}

	process, err := os.FindProcess(st.PID)
	if err != nil {
		return st, false
	}

	// Signal 0 only checks that the process exists
	return st, process.Signal(syscall.Signal(0)) == nil
}

// Owned reports whether the PID file names the current process
func (dm *DaemonManager) Owned() bool {
	st, err := dm.readState()
	return err == nil && st.PID == os.Getpid()
}

// Release removes the PID file if it names the current process
func (dm *DaemonManager) Release() {
	if dm.Owned() {
		dm.remove()
	}
}

func (dm *DaemonManager) writeState(st DaemonState) error {
	if err := os.MkdirAll(filepath.Dir(dm.pidFile), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(&st)
	if err != nil {
		return err
	}
	return os.WriteFile(dm.pidFile, data, 0644)
}

func (dm *DaemonManager) readState() (DaemonState, error) {
	var st DaemonState
	data, err := os.ReadFile(dm.pidFile)
	if err != nil {
		return st, err
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("malformed PID file %s: %w", dm.pidFile, err)
	}
	if st.PID <= 0 {
		return st, fmt.Errorf("PID file %s has no PID", dm.pidFile)
	}
	return st, nil
}

func (dm *DaemonManager) remove() {
	if err := os.Remove(dm.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("Failed to remove PID file")
	}
}
