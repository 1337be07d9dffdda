package main

import (
	"flag"
	"io"
	"testing"

	"golang.org/x/exp/slices"
)

func newTestFlagSet(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()

	fs := flag.NewFlagSet("vswitch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.String("ports", "", "")
	fs.String("log-file", "", "")
	fs.Bool("daemon", false, "")
	fs.Bool("syslog", false, "")
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}
	return fs
}

func TestDaemonArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		logFile  string
		expected []string
	}{
		{
			name:     "Bare flag",
			args:     []string{"-daemon", "-ports", "9999,9998"},
			expected: []string{"vswitch", "-ports=9999,9998", "-syslog"},
		},
		{
			name:     "Explicit value",
			args:     []string{"-daemon=true", "-ports=9999"},
			expected: []string{"vswitch", "-ports=9999", "-syslog"},
		},
		{
			name:     "Double dash",
			args:     []string{"--daemon", "-ports=9999"},
			expected: []string{"vswitch", "-ports=9999", "-syslog"},
		},
		{
			name:     "Log file instead of syslog",
			args:     []string{"-daemon", "-log-file", "/var/log/vswitch.log"},
			logFile:  "/var/log/vswitch.log",
			expected: []string{"vswitch", "-log-file=/var/log/vswitch.log"},
		},
		{
			name:     "Syslog already set",
			args:     []string{"-syslog", "-daemon"},
			expected: []string{"vswitch", "-syslog=true"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newTestFlagSet(t, tt.args...)

			got := daemonArgs(fs, "vswitch", tt.logFile)
			if !slices.Equal(got, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestDaemonArgsChildDoesNotDaemonize(t *testing.T) {
	parent := newTestFlagSet(t, "-daemon=true", "-ports=9999")
	args := daemonArgs(parent, "vswitch", "")

	child := newTestFlagSet(t, args[1:]...)
	if child.Lookup("daemon").Value.String() != "false" {
		t.Errorf("Expected child command line %v to run in the foreground", args)
	}
}
