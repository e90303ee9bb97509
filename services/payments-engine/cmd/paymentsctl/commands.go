package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/you/therapy-booking/pkg/auth"
	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
	"github.com/you/therapy-booking/services/payments-engine/internal/payout"
)

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the engine schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.store.Migrate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func outboxCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and recover outbox items",
	}

	var limit int
	failed := &cobra.Command{
		Use:   "failed",
		Short: "List items that exhausted their retries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := a.store.FailedOutbox(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, it := range items {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\tretries=%d\t%s\n", it.ID, it.Type, it.AggregateID, it.RetryCount, it.LastError)
			}
			return nil
		},
	}
	failed.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum items")

	requeue := &cobra.Command{
		Use:   "requeue [id...]",
		Short: "Return failed items to pending with a fresh retry budget",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				ok, err := a.store.RequeueOutbox(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s: not a failed outbox item", id)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "requeued", id)
			}
			return nil
		},
	}

	cmd.AddCommand(failed, requeue)
	return cmd
}

func payoutsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payouts",
		Short: "Inspect and retry therapist payouts",
	}

	show := &cobra.Command{
		Use:   "show [id]",
		Short: "Print a payout with its audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			po, err := a.payouts().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, po)
		},
	}

	retry := &cobra.Command{
		Use:   "retry [id]",
		Short: "Clear a failed payout and run it now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			po, err := a.payouts().Retry(cmd.Context(), args[0])
			if po != nil {
				_ = printJSON(cmd, po)
			}
			return err
		},
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Run every payout whose retry time has passed, once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := payout.NewScheduler(a.store, a.payouts(), time.Minute, a.log)
			n, err := s.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d payouts attempted\n", n)
			return nil
		},
	}

	cmd.AddCommand(show, retry, sweep)
	return cmd
}

func refundCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refund",
		Short: "Cancellation refunds",
	}

	var paymentID, initiator string
	preview := &cobra.Command{
		Use:   "preview [booking-id]",
		Short: "Price a cancellation without recording it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.refunds().CalculatePreview(cmd.Context(), args[0], paymentID, initiator)
			if err != nil {
				return err
			}
			return printJSON(cmd, c)
		},
	}
	preview.Flags().StringVar(&paymentID, "payment", "", "Payment id (defaults to the booking's payment)")
	preview.Flags().StringVar(&initiator, "initiator", domain.InitiatorClient, "client, therapist or platform")

	cmd.AddCommand(preview)
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		secret string
		sub    string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:         "token",
		Short:       "Mint an operator token for the engine's admin endpoints",
		Annotations: map[string]string{"offline": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}
			tok, err := auth.NewVerifier(secret).CreateAccessToken(sub, auth.RoleAdmin, "", ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", envOr("JWT_SECRET", ""), "Signing secret")
	cmd.Flags().StringVar(&sub, "sub", "ops", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
