// sx13xx-conf loads a packet-forwarder configuration file, validates it and
// brings an SX130x concentrator up: reset, register configuration, radio
// calibration, start.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/namsral/flag"

	"github.com/helium/packet-forwarder-test/pkg/concentrator"
	"github.com/helium/packet-forwarder-test/pkg/config"
	"github.com/helium/packet-forwarder-test/pkg/regions"
	"github.com/helium/packet-forwarder-test/pkg/transport"
)

const appName = "sx13xx-conf"

// Exit codes: 1 for configuration problems, 2 for bus and calibration
// failures.
const (
	exitConfig = 1
	exitBus    = 2
)

var (
	version = "no version from LDFLAGS"

	device = flag.String("device", "sim", "concentrator device: sim, usb[:serial] or a SPI port path")
	region = flag.String("region", "", "verify channel plan against a region (EU868, US915, CN470, AS923_1/2/3)")
	dryRun = flag.Bool("dryRun", false, "validate and print the register plan without touching hardware")
	debug  = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] global_conf.json\n", appName)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(exitConfig)
	}

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "caller", log.DefaultCaller, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "app", appName)
	if *debug {
		logger = level.NewFilter(logger, level.AllowAll())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	level.Info(logger).Log("msg", "starting", "version", version)

	raw, err := config.LoadFromFile(flag.Arg(0))
	if err != nil {
		level.Error(logger).Log("msg", "failed to load configuration", "path", flag.Arg(0), "error", err)
		os.Exit(exitConfig)
	}

	cfg, err := raw.Validate()
	if err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "error", err)
		os.Exit(exitConfig)
	}

	fmt.Println(config.Summary(cfg))

	if *region != "" {
		r, err := regions.Parse(*region)
		if err != nil {
			level.Error(logger).Log("msg", "bad region", "error", err)
			os.Exit(exitConfig)
		}
		mismatches := regions.VerifyChannelPlan(cfg, r)
		for _, m := range mismatches {
			fmt.Printf("REGION %s: %s\n", r, m)
		}
		if len(mismatches) > 0 {
			os.Exit(exitConfig)
		}
		fmt.Printf("REGION %s: channel plan matches\n", r)
	}

	if *dryRun {
		for i, op := range concentrator.BuildPlan(cfg) {
			fmt.Printf("%3d  %s\n", i, op)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)
	go func() {
		<-interrupt
		cancel()
	}()

	bus, err := transport.Open(*device)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open device", "device", *device, "error", err)
		os.Exit(exitBus)
	}
	defer bus.Close()

	ctrl := concentrator.New(bus, concentrator.WithLogger(logger))

	if err := ctrl.Reset(ctx); err != nil {
		level.Error(logger).Log("msg", "reset failed", "error", err)
		os.Exit(exitBus)
	}
	if err := ctrl.Apply(ctx, cfg); err != nil {
		level.Error(logger).Log("msg", "configuration failed", "error", err)
		os.Exit(exitBus)
	}
	results, err := ctrl.Calibrate(ctx)
	if err != nil {
		level.Error(logger).Log("msg", "calibration failed", "error", err)
		os.Exit(exitBus)
	}
	for _, r := range results {
		fmt.Printf("radio %d calibrated: image rejection %d, osc status 0x%02X\n",
			r.Radio, r.ImageRejection, r.OscStatus)
	}
	if err := ctrl.Start(ctx); err != nil {
		level.Error(logger).Log("msg", "start failed", "error", err)
		os.Exit(exitBus)
	}

	level.Info(logger).Log("msg", "concentrator started", "state", ctrl.State())
}
