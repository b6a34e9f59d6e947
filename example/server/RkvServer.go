package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/multierr"

	"rkv"
	"rkv/utils/config"
	"rkv/utils/log"
)

var cli struct {
	Config  string `help:"YAML config file." type:"path" env:"RKV_CONFIG"`
	Addr    string `help:"Listen address, overrides the config file."`
	Engine  string `help:"Storage engine: memory, log or bolt."`
	DataDir string `help:"Directory for the log and bolt engines." type:"path"`
	LogFile string `help:"Base name of rotated log files."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("rkv-server"),
		kong.Description("Redis-compatible key-value server."),
	)
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Read(cli.Config)
	if err != nil {
		return err
	}
	if cli.Addr != "" {
		cfg.Server.Addr = cli.Addr
	}
	if cli.Engine != "" {
		cfg.Server.Engine = cli.Engine
	}
	if cli.DataDir != "" {
		cfg.Server.DataDir = cli.DataDir
	}
	if cli.LogFile != "" {
		cfg.Log.File = cli.LogFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logOpts, err := cfg.Log.Options()
	if err != nil {
		return err
	}
	log.InitLogger(logOpts)
	defer log.Sync()

	engine, err := rkv.OpenEngine(cfg.Server.Engine, cfg.Server.DataDir, cfg.Server.CompactionThreshold)
	if err != nil {
		return err
	}
	l, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		_ = engine.Shutdown()
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	log.Infof("starting %s engine", cfg.Server.Engine)
	return serve(rkv.NewServer(engine), l, sig)
}

// serve runs server on l until a signal arrives, and returns only after
// Close has shut the engine down.
func serve(server *rkv.KvsServer, l net.Listener, sig <-chan os.Signal) error {
	done := make(chan error, 1)
	go func() {
		s := <-sig
		log.Infof("received %s, shutting down", s)
		done <- server.Close()
	}()

	err := server.Serve(l)
	if errors.Is(err, rkv.ErrServerClosed) {
		if err := <-done; err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
	return multierr.Append(err, server.Close())
}
