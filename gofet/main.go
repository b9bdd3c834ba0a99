package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itohio/gofet/pkg/api"
	"github.com/itohio/gofet/pkg/chart"
	"github.com/itohio/gofet/pkg/config"
	"github.com/itohio/gofet/pkg/hal"
	"github.com/itohio/gofet/pkg/logq"
	"github.com/itohio/gofet/pkg/metrics"
	"github.com/itohio/gofet/pkg/sample"
	"github.com/itohio/gofet/pkg/storage"
	"github.com/itohio/gofet/pkg/sweep"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use simulated device instead of serial port")
		addrFlag   = flag.String("addr", "", "HTTP listen address override")
		dirFlag    = flag.String("dir", "", "Measurement directory override")
		portsFlag  = flag.Bool("ports", false, "List serial ports and exit")
		runFlag    = flag.Bool("run", false, "Run the configured sweep once and exit")
		plotFlag   = flag.String("plot", "", "Render a measurement file to PNG and exit")
		outFlag    = flag.String("o", "", "Output file for -plot (default: <file>.png)")
		debugFlag  = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	if *portsFlag {
		listPorts()
		return
	}
	if *plotFlag != "" {
		if err := plotFile(*plotFlag, *outFlag); err != nil {
			log.Fatalf("Failed to plot %s: %v", *plotFlag, err)
		}
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *addrFlag != "" {
		cfg.Server.Addr = *addrFlag
	}
	if *dirFlag != "" {
		cfg.Storage.Dir = *dirFlag
	}
	if *debugFlag {
		cfg.Log.Debug = true
	}

	logs := logq.New(cfg.Log, log.Default())
	defer logs.Close()

	var dev hal.Device
	if *mockFlag {
		dev = hal.NewSim(cfg.Sim, cfg.Hardware)
	} else {
		dev = hal.NewSerial(cfg.Serial, cfg.Hardware)
	}
	if err := dev.Connect(); err != nil {
		// The sweep worker retries on start
		logs.Warnf("Front-end not connected: %v", err)
	}
	defer dev.Close()

	store, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	store.WithLogger(logs)

	m := metrics.New()
	m.WatchLogDrops(logs.Dropped)
	m.WatchStorage(func() (uint64, uint64, error) {
		u, err := store.Usage()
		return u.Used, u.Total, err
	})

	ctrl := sweep.New(dev, store, logs, sweep.OptionsFrom(cfg)).WithObserver(m)

	defaults, err := sweep.ConfigFrom(cfg.Sweep)
	if err != nil {
		log.Fatalf("Invalid default sweep: %v", err)
	}

	if *runFlag {
		if err := runOnce(ctrl, store, defaults); err != nil {
			logs.Errorf("%v", err)
			logs.Close()
			os.Exit(1)
		}
		return
	}

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.New(api.Deps{
			Sweeps:   ctrl,
			Store:    store,
			Logs:     logs,
			Device:   dev,
			Defaults: defaults,
			Metrics:  m.Handler(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logs.Infof("Listening on %s, storing measurements in %s", cfg.Server.Addr, store.Dir())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logs.Infof("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ctrl.Close(ctx); err != nil {
		logs.Errorf("Sweep did not stop: %v", err)
	}
	if err := server.Shutdown(ctx); err != nil {
		logs.Errorf("Server forced to shutdown: %v", err)
	}
}

func listPorts() {
	ports, err := hal.Ports()
	if err != nil {
		log.Fatalf("%v", err)
	}
	for _, p := range ports {
		fmt.Println(p.Name)
	}
}

// runOnce performs a single sweep and waits for it, cancelling on interrupt.
func runOnce(ctrl *sweep.Controller, store *storage.Manager, cfg sweep.Config) error {
	name, err := ctrl.Start(cfg)
	if err != nil {
		return fmt.Errorf("failed to start sweep: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	done := make(chan error, 1)
	go func() { done <- ctrl.Wait(context.Background()) }()

	interrupted := ctx.Done()

	for {
		select {
		case <-done:
			p, _ := ctrl.Progress()
			if ctrl.State() != sweep.Completed {
				return fmt.Errorf("sweep ended %s: %s", p.State, p.Message)
			}
			fmt.Println(store.Dir() + string(os.PathSeparator) + name)
			return nil
		case <-ticker.C:
			if p, ok := ctrl.Progress(); ok {
				log.Printf("%5.1f%% %s", p.Percent, p.Message)
			}
		case <-interrupted:
			ctrl.Cancel(context.Background())
			interrupted = nil
		}
	}
}

func plotFile(name, out string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := sample.Parse(f)
	if err != nil {
		return err
	}

	if out == "" {
		out = name + ".png"
	}
	w, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := chart.WritePNG(w, data, chart.DefaultOptions()); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
