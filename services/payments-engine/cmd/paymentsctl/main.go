// Command paymentsctl is the operator tool for the payments engine: schema
// migration, outbox and payout recovery, refund previews and operator tokens.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/you/therapy-booking/pkg/config"
	"github.com/you/therapy-booking/pkg/db"
	"github.com/you/therapy-booking/pkg/gateway"
	"github.com/you/therapy-booking/pkg/obs"
	"github.com/you/therapy-booking/services/payments-engine/internal/payout"
	"github.com/you/therapy-booking/services/payments-engine/internal/refund"
	"github.com/you/therapy-booking/services/payments-engine/internal/repository"
)

var Version = "dev"

// app is built lazily so `--help` works without a database.
type app struct {
	cfg   config.Engine
	log   *slog.Logger
	store *repository.Store
	gw    gateway.Gateway
}

func (a *app) open(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	cfg, err := config.LoadEngine()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Connect(ctx, cfg.PGEngineDSN, 4)
	if err != nil {
		return err
	}
	omc, err := gateway.NewOmiseClient(cfg.OmisePub, cfg.OmiseSec)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = obs.NewLogger("paymentsctl")
	a.store = repository.New(gdb)
	a.gw = gateway.NewOmise(omc, cfg.OmiseSec)
	return nil
}

func (a *app) payouts() *payout.Orchestrator {
	return payout.NewOrchestrator(a.store, a.gw, a.cfg.Policy, a.log)
}

func (a *app) refunds() *refund.Orchestrator {
	return refund.NewOrchestrator(a.store, a.gw, a.cfg.Policy, a.log)
}

func main() {
	if err := newRootCmd(&app{}).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "paymentsctl",
		Short:   "Operate the therapy-booking payments engine",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["offline"] == "true" {
				return nil
			}
			return a.open(cmd.Context())
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd(a))
	rootCmd.AddCommand(outboxCmd(a))
	rootCmd.AddCommand(payoutsCmd(a))
	rootCmd.AddCommand(refundCmd(a))
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
