package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetupLoggingToFile(t *testing.T) {
	defer func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
	}()

	path := filepath.Join(t.TempDir(), "vswitch.log")
	if err := SetupLogging("debug", path, false, "vswitch"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if logrus.GetLevel() != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %s", logrus.GetLevel())
	}

	logrus.WithField("vlan", 9999).Debug("Learned MAC")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "Learned MAC") || !strings.Contains(string(data), "vlan=9999") {
		t.Errorf("Expected log entry in file, got %q", data)
	}
}

func TestSetupLoggingBadLevel(t *testing.T) {
	if err := SetupLogging("chatty", "", false, "vswitch"); err == nil {
		t.Errorf("Expected error for unknown level")
	}
}
