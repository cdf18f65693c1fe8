package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"fabricbill/backend/internal/app"
	"fabricbill/backend/internal/config"
	"fabricbill/backend/internal/domain"
	"fabricbill/backend/internal/logger"
	"fabricbill/backend/internal/service"
)

var version = "1.0.0"

// opener builds the wired application for one command run.
type opener func(ctx context.Context) (*app.App, error)

func openFromEnv(ctx context.Context) (*app.App, error) {
	cfg := config.Load()
	if err := logger.Setup(cfg.LoggerConfig()); err != nil {
		return nil, fmt.Errorf("invalid logging configuration: %w", err)
	}
	return app.Build(ctx, cfg)
}

type cli struct {
	open    opener
	app     *app.App
	timeout time.Duration
}

func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open, timeout: 2 * time.Minute}

	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Operator tools for the fabricbill customer ledger",
		Long: `ledgerctl runs maintenance work against the configured store:
re-running a cascade, verifying a customer's chain, showing balances and
statements, suggesting the next invoice number and managing the recycle bin.

The store is selected with the same environment as the server
(STORE_BACKEND, DATABASE_URL, FIRESTORE_PROJECT_ID, REDIS_ADDR, ...).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", c.timeout, "Upper bound for one command")

	root.AddCommand(
		c.recalcCmd(),
		c.verifyCmd(),
		c.balanceCmd(),
		c.statementCmd(),
		c.nextInvoiceCmd(),
		c.binCmd(),
	)
	return root
}

// commandContext returns an admin-scoped context so audit entries name the tool.
func (c *cli) commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := service.WithActor(cmd.Context(), domain.Actor{Username: "ledgerctl", Role: domain.RoleAdmin})
	return context.WithTimeout(ctx, c.timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requiredString(cmd *cobra.Command, name string) (string, error) {
	value, _ := cmd.Flags().GetString(name)
	if value == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	return value, nil
}
