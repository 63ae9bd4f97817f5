// rf-tester brings a concentrator up from a configuration file and runs RF
// self tests against it: loopback trials, continuous-wave emission or a
// packet-error-rate sweep over the configured channels.
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
	"github.com/helium/packet-forwarder-test/pkg/rftest"
	"github.com/helium/packet-forwarder-test/pkg/transport"
)

const appName = "rf-tester"

// Exit codes: 1 for configuration problems or a failed PER threshold, 2 for
// bus and calibration failures.
const (
	exitFail = 1
	exitBus  = 2
)

var (
	version = "no version from LDFLAGS"

	device    = flag.String("device", "sim", "concentrator device: sim, usb[:serial] or a SPI port path")
	mode      = flag.String("mode", "loopback", "test mode: loopback, cw or per")
	chain     = flag.Int("chain", 0, "IF chain under test (-1 sweeps all enabled chains in per mode)")
	trials    = flag.Int("trials", rftest.DefaultTrials, "number of loopback/per trials")
	duration  = flag.Duration("duration", rftest.DefaultCWDuration, "CW emission duration")
	timeout   = flag.Duration("timeout", rftest.DefaultEchoTimeout, "per-trial echo timeout")
	threshold = flag.Float64("threshold", 0.1, "fail when the packet error rate reaches this fraction")
	debug     = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] global_conf.json\n", appName)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(exitFail)
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

	testMode, err := rftest.ParseMode(*mode)
	if err != nil {
		level.Error(logger).Log("msg", "bad mode", "error", err)
		os.Exit(exitFail)
	}

	raw, err := config.LoadFromFile(flag.Arg(0))
	if err != nil {
		level.Error(logger).Log("msg", "failed to load configuration", "path", flag.Arg(0), "error", err)
		os.Exit(exitFail)
	}
	cfg, err := raw.Validate()
	if err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "error", err)
		os.Exit(exitFail)
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
	if err := bringUp(ctx, ctrl, cfg); err != nil {
		level.Error(logger).Log("msg", "concentrator bring-up failed", "error", err)
		os.Exit(exitBus)
	}

	session, err := rftest.NewSession(ctrl, rftest.Options{
		Mode:        testMode,
		Chain:       *chain,
		Trials:      *trials,
		EchoTimeout: *timeout,
		CWDuration:  *duration,
	}, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to start session", "error", err)
		os.Exit(exitFail)
	}

	report, err := session.Run(ctx)
	if report != nil {
		printReport(report)
	}
	if err != nil {
		level.Error(logger).Log("msg", "session aborted", "error", err)
		os.Exit(exitBus)
	}

	if testMode != rftest.ModeCW && !report.WithinThreshold(*threshold) {
		level.Error(logger).Log("msg", "packet error rate over threshold",
			"per", fmt.Sprintf("%.3f", report.PER), "threshold", *threshold)
		os.Exit(exitFail)
	}
}

// bringUp walks the controller through reset, configuration, calibration and
// start.
func bringUp(ctx context.Context, ctrl *concentrator.Controller, cfg *concentrator.ValidatedConfig) error {
	if err := ctrl.Reset(ctx); err != nil {
		return err
	}
	if err := ctrl.Apply(ctx, cfg); err != nil {
		return err
	}
	if _, err := ctrl.Calibrate(ctx); err != nil {
		return err
	}
	return ctrl.Start(ctx)
}

func printReport(r *rftest.Report) {
	if r.Mode == rftest.ModeCW {
		fmt.Println("CW emission complete")
		return
	}
	if r.Partial {
		fmt.Println("-- partial results, session aborted --")
	}
	fmt.Printf("trials:   %d\n", r.Trials)
	fmt.Printf("received: %d\n", r.Received)
	fmt.Printf("failed:   %d\n", r.Failed)
	fmt.Printf("PER:      %.3f\n", r.PER)
	if r.Received > 0 {
		fmt.Printf("RSSI dBm: min %.1f / avg %.1f / max %.1f\n", r.RSSI.Min, r.RSSI.Mean, r.RSSI.Max)
		fmt.Printf("SNR dB:   min %.2f / avg %.2f / max %.2f\n", r.SNR.Min, r.SNR.Mean, r.SNR.Max)
	}
}
