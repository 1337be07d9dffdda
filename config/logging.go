package config

import (
	"fmt"
	"io"
	"log/syslog"
	"os"

	"github.com/sirupsen/logrus"
	lsyslog "github.com/sirupsen/logrus/hooks/syslog"
)

// SetupLogging configures the standard logrus logger. With useSyslog the
// entries go to the local syslog daemon under tag; otherwise to logFile, or
// stdout when logFile is empty.
func SetupLogging(level, logFile string, useSyslog bool, tag string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)

	switch {
	case useSyslog:
		hook, err := lsyslog.NewSyslogHook("", "", syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
		if err != nil {
			return fmt.Errorf("failed to connect to syslog: %w", err)
		}
		logrus.AddHook(hook)
		// syslog handles timestamps and delivery
		logrus.SetOutput(io.Discard)
	case logFile != "":
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logrus.SetOutput(f)
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	default:
		logrus.SetOutput(os.Stdout)
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
