// Command compactord drains a database's pending-log directory into
// snapshots and keeps the snapshot registry merged in the background.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ubersan/libsql/compaction"
	"github.com/ubersan/libsql/config"
)

var (
	// Version is set during build time.
	Version = "dev"
	// GitCommit is set during build time.
	GitCommit = "unknown"
)

func printVersion() {
	fmt.Printf("compactord %s (%s) %s\n", Version, GitCommit, runtime.Version())
}

type cliFlags struct {
	dbPath      string
	configPath  string
	logID       string
	showVersion bool
}

func parseFlags() *cliFlags {
	f := &cliFlags{}
	flag.StringVar(&f.dbPath, "db-path", "", "Database directory containing the pending-log and snapshot directories")
	flag.StringVar(&f.configPath, "config", "", "Path to a YAML config file (defaults built in if omitted)")
	flag.StringVar(&f.logID, "log-id", "", "Log identifier (UUID) this instance compacts; generated if omitted")
	flag.BoolVar(&f.showVersion, "version", false, "Show version information and exit")
	flag.Parse()
	return f
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	if flags.dbPath == "" {
		fmt.Fprintln(os.Stderr, "compactord: -db-path is required")
		flag.Usage()
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "compactord: setting up logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := config.Default()
	if flags.configPath != "" {
		cfg, err = config.Load(flags.configPath)
		if err != nil {
			logger.Fatal("loading config", zap.Error(err))
		}
	}

	logID, err := resolveLogID(flags.logID)
	if err != nil {
		logger.Fatal("parsing log id", zap.Error(err))
	}

	compactor, err := compaction.NewCompactor(flags.dbPath, logID, nil, cfg, logger)
	if err != nil {
		logger.Fatal("starting compactor", zap.Error(err))
	}

	logger.Info("compactord started",
		zap.String("db_path", flags.dbPath),
		zap.String("log_id", logID.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("compactord shutting down")
	if err := compactor.Close(); err != nil {
		logger.Error("compactor exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func resolveLogID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(raw)
}
