// Package main provides the ledgerlite core diagnostic binary. It opens the
// local store, applies migrations and reports or maintains the pending
// operation ledger. watch keeps the compaction scheduler running until
// interrupted.
//
// Usage:
//
//	core [-env file] [status|compact|watch|retry-failed|wipe|version]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/kimhsiao/ledgerlite/backend/internal/clock"
	"github.com/kimhsiao/ledgerlite/backend/internal/config"
	"github.com/kimhsiao/ledgerlite/backend/internal/db"
	apperrors "github.com/kimhsiao/ledgerlite/backend/internal/errors"
	"github.com/kimhsiao/ledgerlite/backend/internal/logging"
	"github.com/kimhsiao/ledgerlite/backend/internal/repository"
	"github.com/kimhsiao/ledgerlite/backend/internal/sync/scheduler"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// report is what the status command prints.
type report struct {
	Version       string                  `json:"version"`
	Store         string                  `json:"store"`
	SchemaVersion int                     `json:"schema_version"`
	Pending       int64                   `json:"pending"`
	Syncing       int64                   `json:"syncing"`
	Failed        int64                   `json:"failed"`
	Completed     int64                   `json:"completed"`
	Stranded      int                     `json:"stranded"`
	LastIssuedID  int64                   `json:"last_issued_local_id"`
	Removed       *int64                  `json:"removed,omitempty"`
	Retried       *repository.RetryResult `json:"retried,omitempty"`
	Wiped         bool                    `json:"wiped,omitempty"`
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("core", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envFile := fs.String("env", "", "optional .env file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	command := "status"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
	}
	if command == "version" {
		_, err := fmt.Fprintf(stdout, "ledgerlite core v%s\n", Version)
		return err
	}

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return err
	}

	logger := logging.New(stderr, cfg.Log.Level)
	if cfg.Log.Pretty {
		logger = logging.NewPretty(stderr, cfg.Log.Level)
	}
	logging.SetGlobal(logger)

	store, err := db.Open(cfg.Store.DataDir, cfg.Store.FileName)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := db.Migrate(ctx, store, logger); err != nil {
		return err
	}
	version, err := db.NewMigrator(store.DB, db.Migrations(), logger).CurrentVersion(ctx)
	if err != nil {
		return err
	}

	set := repository.NewSet(store, repository.Options{
		Clock:  clock.System{},
		Logger: logger,
		Cache:  cfg.Cache,
	})

	out := report{Version: Version, Store: cfg.Store.Path(), SchemaVersion: version}

	switch command {
	case "status":
	case "compact":
		removed, err := newScheduler(set, cfg, logger).CompactNow(ctx)
		if err != nil {
			return err
		}
		out.Removed = &removed
	case "watch":
		removed, err := watch(ctx, newScheduler(set, cfg, logger))
		if err != nil {
			return err
		}
		out.Removed = &removed
		ctx = context.WithoutCancel(ctx)
	case "retry-failed":
		retried, err := set.RetryAllFailed(ctx)
		if err != nil {
			return err
		}
		out.Retried = &retried
	case "wipe":
		if err := set.WipeLocalData(ctx); err != nil {
			return err
		}
		out.Wiped = true
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "unknown command %q", command)
	}

	if err := fill(ctx, set, &out); err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newScheduler(set *repository.Set, cfg *config.Config, logger *logging.Logger) *scheduler.Scheduler {
	return scheduler.NewScheduler(set.Ledger, &scheduler.SchedulerConfig{
		CompactInterval: cfg.Ledger.CompactInterval,
		Logger:          logger,
	})
}

// watch compacts once, then keeps the scheduler running until ctx is done.
// It returns the total number of rows removed.
func watch(ctx context.Context, sched *scheduler.Scheduler) (int64, error) {
	if _, err := sched.CompactNow(ctx); err != nil {
		return 0, err
	}
	sched.Start(ctx)
	<-ctx.Done()
	sched.Stop()

	status, err := sched.GetStatus(context.WithoutCancel(ctx))
	if err != nil {
		return 0, err
	}
	return status.TotalRemoved, nil
}

func fill(ctx context.Context, set *repository.Set, out *report) error {
	stats, err := set.Ledger.Stats(ctx)
	if err != nil {
		return err
	}
	out.Pending, out.Syncing, out.Failed, out.Completed = stats.Pending, stats.Syncing, stats.Failed, stats.Completed

	transactions, err := set.Transactions.Stranded(ctx)
	if err != nil {
		return err
	}
	accounts, err := set.Accounts.Stranded(ctx)
	if err != nil {
		return err
	}
	categories, err := set.Categories.Stranded(ctx)
	if err != nil {
		return err
	}
	out.Stranded = len(transactions) + len(accounts) + len(categories)

	out.LastIssuedID, err = set.IDs.LastIssued(ctx)
	return err
}
