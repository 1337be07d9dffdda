package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"

	"udp-vswitch/config"
	vport "udp-vswitch/port"
)

var (
	configFile = flag.String("config", os.Getenv("VPORT_CONFIG"), "YAML configuration file [env: VPORT_CONFIG]")
	device     = flag.String("dev", "", "TAP device name [env: VPORT_DEVICE]")
	localAddr  = flag.String("local", "", "Local UDP address to bind [env: VPORT_LOCAL_ADDR]")
	logLevel   = flag.String("log-level", "", "Log level (trace, debug, info, warn, error) [env: VPORT_LOG_LEVEL]")
	logFile    = flag.String("log-file", "", "Log file (empty for stdout) [env: VPORT_LOG_FILE]")
)

func loadConfig() (*config.Port, error) {
	cfg, err := config.LoadPort(*configFile)
	if err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dev":
			cfg.Device = *device
		case "local":
			cfg.LocalAddr = *localAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-file":
			cfg.LogFile = *logFile
		}
	})

	switch flag.NArg() {
	case 0:
	case 2:
		port, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			return nil, fmt.Errorf("invalid switch port '%s': %w", flag.Arg(1), err)
		}
		cfg.SwitchHost = flag.Arg(0)
		cfg.SwitchPort = port
	default:
		flag.Usage()
		os.Exit(2)
	}

	return cfg, cfg.Validate()
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] {VSWITCH_IP} {VSWITCH_PORT}\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Bridges a local TAP device to a UDP virtual switch.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := config.SetupLogging(cfg.LogLevel, cfg.LogFile, false, "vport"); err != nil {
		log.Fatalf("Failed to setup logging: %v", err)
	}

	dev, err := vport.OpenTAP(cfg.Device)
	if err != nil {
		log.Fatalf("Failed to open TAP device: %v", err)
	}
	log.WithField("device", dev.Name()).Info("TAP device allocated")

	session, err := vport.Dial(cfg, dev, log.NewEntry(log.StandardLogger()))
	if err != nil {
		_ = dev.Close()
		log.Fatalf("Failed to connect to switch: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := session.Run(ctx); err != nil {
		log.Fatalf("Session failed: %v", err)
	}
	log.Info("VPort stopped")
}
