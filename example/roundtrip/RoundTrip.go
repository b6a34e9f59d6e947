package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"rkv"
	"rkv/utils/config"
	"rkv/utils/log"
)

type cli struct {
	Config  string `help:"YAML config file." type:"path" env:"RKV_CONFIG"`
	Host    string `help:"Store host, overrides the config file."`
	Port    int    `help:"Store port, overrides the config file."`
	DB      int    `help:"Logical database index, overrides the config file." default:"-1"`
	Verbose bool   `short:"v" help:"Log every round trip."`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args, performs the round trip and returns the exit code.
// The success line goes to stdout, errors go to stderr.
func run(args []string, stdout, stderr io.Writer) int {
	var flags cli
	parser, err := kong.New(&flags,
		kong.Name("rkv-roundtrip"),
		kong.Description("Writes strings, integers and floats to a key-value store and checks they read back unchanged."),
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if _, err := parser.Parse(args); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	if err := roundTrip(flags); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, "All tests passed successfully!")
	return 0
}

func roundTrip(opts cli) error {
	cfg, err := config.Read(opts.Config)
	if err != nil {
		return err
	}
	if opts.Host != "" {
		cfg.Tester.Host = opts.Host
	}
	if opts.Port != 0 {
		cfg.Tester.Port = opts.Port
	}
	if opts.DB >= 0 {
		cfg.Tester.DB = opts.DB
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
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

	tester := rkv.NewRoundTripTester(rkv.ClientOptions{
		Addr:         cfg.Tester.Addr(),
		DB:           cfg.Tester.DB,
		DialTimeout:  cfg.Tester.DialTimeout,
		ReadTimeout:  cfg.Tester.ReadTimeout,
		WriteTimeout: cfg.Tester.WriteTimeout,
	})
	res, err := tester.Run(context.Background())
	if err != nil {
		return err
	}
	log.Infof("checked %d keys, skipped %d", len(res.Checked), len(res.Skipped))
	return nil
}
