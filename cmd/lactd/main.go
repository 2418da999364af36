// Command lactd runs the LACT unit controller: the scan executive
// over simulated or Modbus field I/O, the REST API, the telemetry
// publishers, and (by default) the operator TUI.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lactlink/api"
	"lactlink/config"
	"lactlink/engine"
	"lactlink/logging"
	"lactlink/tui"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to config.yaml")
	headless := flag.Bool("headless", false, "run without the operator TUI")
	modbusAddr := flag.String("modbus", "", "Modbus TCP address (host:port); overrides the configured backend")
	simBackend := flag.Bool("sim", false, "force the hardware simulator backend")
	logPath := flag.String("log", "", "log file path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *modbusAddr != "" {
		cfg.IO.Backend = "modbus"
		cfg.IO.Address = *modbusAddr
	}
	if *simBackend {
		cfg.IO.Backend = "sim"
	}
	if *logPath != "" {
		cfg.LogFile = *logPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logFn := func(format string, args ...interface{}) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	var fileLog *logging.FileLogger
	if cfg.LogFile != "" {
		fileLog, err = logging.NewFileLogger(cfg.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file: %v\n", err)
			os.Exit(1)
		}
		defer fileLog.Close()
		logFn = fileLog.Log
	} else if !*headless {
		// The TUI owns the terminal; send logs nowhere rather than
		// corrupting the screen.
		logFn = func(string, ...interface{}) {}
	}
	logging.SetDebugSink(func(component, format string, args ...interface{}) {
		logFn("[%s] "+format, append([]interface{}{component}, args...)...)
	})

	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		LogFunc:    logFn,
	})
	if err := eng.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer eng.Stop()

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = api.NewServer(eng, logFn)
		if err := apiSrv.Start(cfg.API.Host, cfg.API.Port); err != nil {
			logFn("api: %v", err)
		}
		defer apiSrv.Stop()
	}

	if *headless {
		logFn("running headless (unit %s, backend %s); Ctrl-C to stop", cfg.Unit, cfg.IO.Backend)
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logFn("shutting down")
		return
	}

	if err := tui.NewApp(eng).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tui: %v\n", err)
		os.Exit(1)
	}
}
