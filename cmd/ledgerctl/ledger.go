package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fabricbill/backend/internal/logger"
)

func (c *cli) recalcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recalc",
		Short: "Recalculate a customer's invoice chain",
		Long: `Recomputes the carried balance of every invoice after --after, or the
whole chain when --after is empty. Safe to re-run with the resume point
reported by an interrupted cascade.`,
		Example: `  ledgerctl recalc --customer +919820012345
  ledgerctl recalc --customer +919820012345 --after 014`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := requiredString(cmd, "customer")
			if err != nil {
				return err
			}
			after, _ := cmd.Flags().GetString("after")

			ctx, cancel := c.commandContext(cmd)
			defer cancel()
			report, err := c.app.Service.Recalculate(ctx, key, after)
			if err != nil {
				return err
			}
			log := logger.WithComponent("ledgerctl")
			log.Info().
				Str("run_id", report.RunID).
				Str("customer_key", key).
				Int("updated", len(report.Updated)).
				Msg("recalculation finished")
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().String("customer", "", "Customer key (E.164 phone or name:<name>)")
	cmd.Flags().String("after", "", "Recalculate invoices after this invoice number")
	return cmd
}

func (c *cli) verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a customer's chain for broken balance invariants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := requiredString(cmd, "customer")
			if err != nil {
				return err
			}

			ctx, cancel := c.commandContext(cmd)
			defer cancel()
			violations, err := c.app.Service.Verify(ctx, key)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), map[string]any{
				"customer_key": key,
				"consistent":   len(violations) == 0,
				"violations":   violations,
			}); err != nil {
				return err
			}
			if len(violations) > 0 {
				return fmt.Errorf("%d violation(s) in chain of %s", len(violations), key)
			}
			return nil
		},
	}
	cmd.Flags().String("customer", "", "Customer key (E.164 phone or name:<name>)")
	return cmd
}

func (c *cli) balanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the balance carried into an invoice",
		Long: `Without --invoice, shows the balance a new invoice for the customer
would carry forward.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := requiredString(cmd, "customer")
			if err != nil {
				return err
			}
			invoiceNo, _ := cmd.Flags().GetString("invoice")

			ctx, cancel := c.commandContext(cmd)
			defer cancel()
			balance, err := c.app.Service.CarriedBalance(ctx, key, invoiceNo)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), balance)
		},
	}
	cmd.Flags().String("customer", "", "Customer key (E.164 phone or name:<name>)")
	cmd.Flags().String("invoice", "", "Invoice number to derive the carried balance for")
	return cmd
}

func (c *cli) statementCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statement",
		Short: "Print a customer statement",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := requiredString(cmd, "customer")
			if err != nil {
				return err
			}

			ctx, cancel := c.commandContext(cmd)
			defer cancel()
			stmt, err := c.app.Service.Statement(ctx, key)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stmt)
		},
	}
	cmd.Flags().String("customer", "", "Customer key (E.164 phone or name:<name>)")
	return cmd
}

func (c *cli) nextInvoiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next-invoice",
		Short: "Suggest the next invoice number",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := c.commandContext(cmd)
			defer cancel()
			suggestion, err := c.app.Service.SuggestNextInvoiceNo(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), suggestion)
		},
	}
}
