// Command groupsync provisions assignment groups in the remote incident system and
// records their remote ids for ticket routing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/opsdesk/ticket-sync/internal/config"
	"github.com/opsdesk/ticket-sync/internal/observability"
	"github.com/opsdesk/ticket-sync/internal/persistence"
	"github.com/opsdesk/ticket-sync/internal/remote"
	"github.com/opsdesk/ticket-sync/internal/repository"
	"github.com/opsdesk/ticket-sync/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var filePath string
	var dryRun bool
	var list bool

	flagSet := pflag.NewFlagSet("groupsync", pflag.ContinueOnError)
	flagSet.StringVarP(&filePath, "file", "f", "", "YAML file with a top-level groups list (default: built-in groups)")
	flagSet.BoolVar(&dryRun, "dry-run", false, "validate and print the groups without calling the remote system")
	flagSet.BoolVar(&list, "list", false, "print the stored groups and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	seeds := service.DefaultGroupSeeds
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("read %s: %w", filePath, err)
		}
		if seeds, err = service.ParseGroupSeeds(data); err != nil {
			return err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if dryRun {
		if err := service.ValidateSeeds(seeds); err != nil {
			return err
		}
		for _, seed := range seeds {
			fmt.Printf("%-24s %s\n", seed.Name, seed.Category)
		}
		return nil
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()
	pool := pg.PoolHandle()
	if pool == nil {
		return fmt.Errorf("POSTGRES_DSN is required to store group ids")
	}

	assignments := service.NewAssignmentService(
		repository.NewAssignmentGroupRepository(pool),
		remote.NewClient(cfg.Remote, logger),
		logger,
	)

	if list {
		groups, err := assignments.ListGroups(ctx)
		if err != nil {
			return err
		}
		for _, g := range groups {
			fmt.Printf("%-24s %-16s %s active=%t\n", g.Name, g.Category, g.RemoteGroupID, g.IsActive)
		}
		return nil
	}

	if cfg.Remote.BaseURL == "" {
		return fmt.Errorf("REMOTE_BASE_URL or REMOTE_INSTANCE is required")
	}
	results, err := assignments.Provision(ctx, seeds, false)
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Printf("FAIL %-24s %v\n", r.Name, r.Err)
			continue
		}
		fmt.Printf("OK   %-24s %s\n", r.Name, r.RemoteGroupID)
	}
	logger.Info("group provisioning finished", zap.Int("groups", len(results)), zap.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("%d of %d groups failed", failed, len(results))
	}
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `groupsync creates one assignment group per support category in the remote
incident system and stores the returned ids so tickets can be routed.

Usage:
  groupsync [flags]

Flags:
%s`, flagSet.FlagUsages())
}
