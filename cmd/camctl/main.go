package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"webcamctl"
	"webcamctl/api"
)

// Version can be set during build time
var Version = "dev"

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `camctl %s - webcam control via v4l2-ctl

Usage: camctl [flags] <command>

Commands:
  list                    print all controls with normalized positions
  get <name>              print one control
  set <name> <position>   commit a position in [0,1]
  switch <name> on|off    write a boolean control
  snapshot <file>         capture one frame
  serve                   run the HTTP control API

Flags:
`, Version)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "webcamctl.yaml", "YAML configuration file")
	device := flag.String("device", "", "video device, overrides configuration")
	listen := flag.String("listen", "", "HTTP listen address for serve, overrides configuration")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := webcamctl.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if errs := cfg.Verify(); len(errs) > 0 {
		fmt.Fprintln(os.Stderr, "configuration errors:", errors.Join(errs...))
		os.Exit(1)
	}

	logger, finish, err := webcamctl.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer finish()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	exec := webcamctl.InstrumentExecutor(webcamctl.NewCommandExecutor(cfg.CommandTimeout, logger), webcamctl.NewMetrics(registry))
	if err := run(ctx, cfg, logger, exec, registry, os.Stdout, flag.Args()); err != nil {
		logger.Errorw("command failed", "error", err)
		finish()
		os.Exit(1)
	}
}

// Execute one command against the configured device, tables are printed to out
func run(ctx context.Context, cfg *webcamctl.Config, logger *zap.SugaredLogger, exec webcamctl.Executor, registry *prometheus.Registry, out io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.New("no command given")
	}
	controller := webcamctl.ControllerFromConfig(cfg, exec, logger)

	command, args := args[0], args[1:]
	switch command {
	case "list":
		if err := controller.Reload(ctx); err != nil {
			return err
		}
		printControls(out, controller, controller.Table().Names())
		return nil
	case "get":
		if len(args) != 1 {
			return errors.New("usage: get <name>")
		}
		if err := controller.Reload(ctx); err != nil {
			return err
		}
		if _, ok := controller.Control(args[0]); !ok {
			return fmt.Errorf("%s: %w", args[0], webcamctl.ErrUnknownControl)
		}
		printControls(out, controller, args)
		return nil
	case "set":
		if len(args) != 2 {
			return errors.New("usage: set <name> <position>")
		}
		pos, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid position %q: %w", args[1], err)
		}
		if err := controller.Reload(ctx); err != nil {
			return err
		}
		return controller.Commit(ctx, args[0], pos)
	case "switch":
		if len(args) != 2 {
			return errors.New("usage: switch <name> on|off")
		}
		on, err := parseSwitch(args[1])
		if err != nil {
			return err
		}
		return controller.SetBoolean(ctx, args[0], on)
	case "snapshot":
		if len(args) != 1 {
			return errors.New("usage: snapshot <file>")
		}
		capturer, err := webcamctl.CapturerFromConfig(cfg, exec, logger)
		if err != nil {
			return err
		}
		return capturer.Capture(ctx, args[0])
	case "serve":
		return serve(ctx, cfg, logger, controller, exec, registry)
	}
	return fmt.Errorf("unknown command %q", command)
}

func serve(ctx context.Context, cfg *webcamctl.Config, logger *zap.SugaredLogger, controller *webcamctl.Controller, exec webcamctl.Executor, registry *prometheus.Registry) error {
	if err := controller.Reload(ctx); err != nil {
		// the API can retry with POST /reload once the device shows up
		logger.Warnw("initial reload failed", "error", err)
	}
	capturer, err := webcamctl.CapturerFromConfig(cfg, exec, logger)
	if err != nil {
		return err
	}
	server := api.New(controller, capturer, api.Options{
		Addr:         cfg.Listen,
		SnapshotPath: cfg.Snapshot.Output,
		Gatherer:     registry,
		Logger:       logger,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch value %q, want on or off", s)
}

func printControls(out io.Writer, controller *webcamctl.Controller, names []string) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMIN\tMAX\tSTEP\tVALUE\tPOSITION\tENABLED")
	for _, name := range names {
		c, ok := controller.Control(name)
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.3f\t%t\n", c.Name, c.Min, c.Max, c.Step, c.Value, c.Position(), controller.Enabled(name))
	}
	tw.Flush()
}
