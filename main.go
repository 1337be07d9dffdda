package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/c2h5oh/datasize"
	log "github.com/sirupsen/logrus"

	"udp-vswitch/config"
	vswitch "udp-vswitch/switch"
)

var (
	configFile    = flag.String("config", os.Getenv("VSWITCH_CONFIG"), "YAML configuration file [env: VSWITCH_CONFIG]")
	ports         = flag.String("ports", "", "Comma-separated list of UDP ports (each port = isolated segment) [env: VSWITCH_PORTS]")
	listenHost    = flag.String("listen", "", "Local address to bind (empty for all) [env: VSWITCH_LISTEN_HOST]")
	maxEntries    = flag.Int("max-entries", 0, "Maximum MAC table entries per segment [env: VSWITCH_MAX_ENTRIES]")
	statsInterval = flag.Duration("stats-interval", 0, "Statistics logging interval, 0 to disable [env: VSWITCH_STATS_INTERVAL]")
	logLevel      = flag.String("log-level", "", "Log level (trace, debug, info, warn, error) [env: VSWITCH_LOG_LEVEL]")
	logFile       = flag.String("log-file", "", "Log file (empty for stdout, or syslog as daemon) [env: VSWITCH_LOG_FILE]")
	pidFile       = flag.String("pid-file", "", "PID file for daemon mode [env: VSWITCH_PID_FILE]")
	daemon        = flag.Bool("daemon", false, "Run as daemon in background")
	useSyslog     = flag.Bool("syslog", false, "Log to syslog")
	stop          = flag.Bool("stop", false, "Stop running daemon")
	status        = flag.Bool("status", false, "Show daemon status")
	version       = flag.Bool("version", false, "Show version information")
)

// loadConfig layers explicitly set flags over the file and environment
func loadConfig() (*config.Switch, error) {
	cfg, err := config.LoadSwitch(*configFile)
	if err != nil {
		return nil, err
	}

	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ports":
			p, err := config.ParsePorts(*ports)
			if err != nil {
				flagErr = err
				return
			}
			cfg.Ports = p
		case "listen":
			cfg.ListenHost = *listenHost
		case "max-entries":
			cfg.MaxEntries = *maxEntries
		case "stats-interval":
			cfg.StatsInterval = *statsInterval
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-file":
			cfg.LogFile = *logFile
		case "pid-file":
			cfg.PIDFile = *pidFile
		}
	})
	if flagErr != nil {
		return nil, flagErr
	}

	return cfg, cfg.Validate()
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "UDP Virtual Switch v%s\n\n", GetVersion())
		fmt.Fprintf(os.Stderr, "An Ethernet learning switch whose ports are UDP endpoints.\n")
		fmt.Fprintf(os.Stderr, "Each listen port is a separate isolated segment.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -ports 9999\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -daemon -ports 9999,9998\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -stop\n", os.Args[0])
	}

	flag.Parse()

	if *version {
		fmt.Printf("UDP Virtual Switch v%s\n", GetVersion())
		os.Exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	dm := vswitch.NewDaemonManager(cfg.PIDFile, cfg.LogFile)

	if *stop {
		if err := dm.Stop(); err != nil {
			log.Fatalf("Failed to stop daemon: %v", err)
		}
		fmt.Printf("Daemon stopped\n")
		os.Exit(0)
	}

	if *status {
		if st, ok := dm.Status(); ok {
			fmt.Printf("Daemon is running (PID: %d, segments: %v, up %s)\n",
				st.PID, st.Ports, time.Since(st.Started).Round(time.Second))
		} else {
			fmt.Printf("Daemon is not running\n")
		}
		os.Exit(0)
	}

	if *daemon {
		args := daemonArgs(flag.CommandLine, os.Args[0], cfg.LogFile)
		if err := dm.Daemonize(args, cfg.Ports); err != nil {
			log.Fatalf("Failed to start daemon: %v", err)
		}
		fmt.Printf("Daemon started\n")
		os.Exit(0)
	}

	if err := config.SetupLogging(cfg.LogLevel, cfg.LogFile, *useSyslog, "vswitch"); err != nil {
		log.Fatalf("Failed to setup logging: %v", err)
	}
	log.Infof("Starting UDP Virtual Switch v%s", GetVersion())
	log.Infof("Configured segments on ports: %v", cfg.Ports)

	sm := vswitch.NewSwitchManager(vswitch.ManagerConfig{
		Host:        cfg.ListenHost,
		MaxEntries:  cfg.MaxEntries,
		ReadBuffer:  cfg.ReadBuffer,
		WriteBuffer: cfg.WriteBuffer,
	}, log.NewEntry(log.StandardLogger()))
	for _, port := range cfg.Ports {
		if _, err := sm.AddVLAN(port); err != nil {
			log.Fatalf("Failed to create segment on port %d: %v", port, err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sm.StartAll(ctx); err != nil {
		log.Fatalf("Failed to start segments: %v", err)
	}

	// A daemonized child replaces the configured ports with the bound ones
	if dm.Owned() {
		if err := dm.Record(sm.GetVLANs()); err != nil {
			log.WithError(err).Warn("Failed to record segments in PID file")
		}
	}

	if cfg.StatsInterval > 0 {
		go logStatsPeriodically(ctx, sm, cfg.StatsInterval)
	}

	log.Infof("Virtual switch started with %d isolated segments. Press Ctrl+C to stop.", len(cfg.Ports))

	<-ctx.Done()
	log.Info("Received shutdown signal, shutting down...")

	sm.StopAll()
	dm.Release()

	log.Info("Virtual switch stopped")
}

// daemonArgs rebuilds the command line for the background child from the
// flags that were set, leaving out -daemon however it was spelled. The child
// logs to syslog unless a log file is configured.
func daemonArgs(fs *flag.FlagSet, argv0, logFile string) []string {
	args := []string{argv0}
	syslogSet := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "daemon":
			return
		case "syslog":
			syslogSet = true
		}
		args = append(args, "-"+f.Name+"="+f.Value.String())
	})
	if logFile == "" && !syslogSet {
		args = append(args, "-syslog")
	}
	return args
}

// logStatsPeriodically logs switch statistics until ctx is done
func logStatsPeriodically(ctx context.Context, sm *vswitch.SwitchManager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		total, _ := sm.GetStats()
		log.WithFields(log.Fields{
			"segments":    len(sm.GetVLANs()),
			"mac_entries": total.MACEntries,
			"frames":      total.TotalFrames,
			"unicast":     total.UnicastFrames,
			"broadcast":   total.BroadcastFrames,
			"dropped":     total.DroppedFrames,
			"rx":          datasize.ByteSize(total.BytesReceived).HumanReadable(),
			"tx":          datasize.ByteSize(total.BytesSent).HumanReadable(),
		}).Info("Stats")
	}
}
