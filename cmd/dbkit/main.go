// Command dbkit generates public ids and archives tables in bounded windows.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog"

	"dbkit/internal/archive"
	"dbkit/internal/blob"
	"dbkit/internal/config"
	"dbkit/internal/tracing"
	"dbkit/pkg/publicid"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	switch args[0] {
	case "id":
		return idCommand(args[1:], stdout, stderr)
	case "archive":
		return archiveCommand(args[1:], stdout, stderr)
	case "check":
		return checkCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "dbkit: unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `Usage: dbkit <command> [arguments]

Commands:
  id new [-n count]        generate public ids
  id encode <hex16>        encode 16 hex-encoded bytes as a public id
  id decode <id>           decode a public id to 16 hex-encoded bytes
  archive [-config file]   archive a table to the configured blob store
  check [-config file]     validate a config file without touching anything`)
}

func idCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "dbkit: id needs a subcommand: new, encode or decode")
		return 2
	}
	switch args[0] {
	case "new":
		fs := flag.NewFlagSet("id new", flag.ContinueOnError)
		fs.SetOutput(stderr)
		n := fs.Int("n", 1, "number of ids to generate")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		for range *n {
			fmt.Fprintln(stdout, publicid.Generate())
		}
		return 0
	case "encode":
		if len(args) != 2 {
			fmt.Fprintln(stderr, "dbkit: id encode needs one hex argument")
			return 2
		}
		raw, err := hex.DecodeString(args[1])
		if err != nil {
			fmt.Fprintf(stderr, "dbkit: bad hex: %v\n", err)
			return 1
		}
		id, err := publicid.FromBytes(raw)
		if err != nil {
			fmt.Fprintf(stderr, "dbkit: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, id)
		return 0
	case "decode":
		if len(args) != 2 {
			fmt.Fprintln(stderr, "dbkit: id decode needs one id argument")
			return 2
		}
		raw, err := publicid.ID(args[1]).Bytes()
		if err != nil {
			fmt.Fprintf(stderr, "dbkit: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "%x\n", raw)
		return 0
	default:
		fmt.Fprintf(stderr, "dbkit: unknown id subcommand %q\n", args[0])
		return 2
	}
}

func checkCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "dbkit.yaml", "path to the config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "dbkit: config check failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "config ok: driver=%s table=%s window=%d blob=%s prefix=%s\n",
		cfg.Database.Driver, cfg.Scan.Table, cfg.Scan.Window, cfg.Blob.Driver, cfg.Archive.Prefix)
	return 0
}

func archiveCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("archive", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "dbkit.yaml", "path to the config file")
	startKey := fs.Int64("start", 0, "override scan.start_key for this run")
	tracePath := fs.String("trace", "", "write spans to this file, '-' for stdout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr}).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("load config")
		return 1
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "start" {
			cfg.Scan.StartKey = *startKey
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *tracePath != "" {
		w := stdout
		if *tracePath != "-" {
			f, err := os.Create(*tracePath)
			if err != nil {
				logger.Error().Err(err).Msg("open trace file")
				return 1
			}
			defer func() { _ = f.Close() }()
			w = f
		}
		if err := tracing.Init("dbkit", w); err != nil {
			logger.Error().Err(err).Msg("init tracing")
			return 1
		}
		defer func() { _ = tracing.Shutdown(context.Background()) }()
	}

	db, err := cfg.Database.Open(logger, nil)
	if err != nil {
		logger.Error().Err(err).Msg("open database")
		return 1
	}
	defer func() { _ = db.Close() }()

	store, err := blob.Open(ctx, cfg.Blob.Settings())
	if err != nil {
		logger.Error().Err(err).Msg("open blob store")
		return 1
	}

	arch := archive.New(db, store,
		archive.WithLogger(logger),
		archive.WithPlaceholder(cfg.Database.Placeholder()),
	)
	sum, err := arch.Run(ctx, cfg.Job())
	if err != nil {
		logger.Error().Err(err).Msg("archive run failed")
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		logger.Error().Err(err).Msg("encode summary")
		return 1
	}
	return 0
}
