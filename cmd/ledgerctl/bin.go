package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) binCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bin",
		Short: "Inspect and manage the recycle bin",
	}
	cmd.AddCommand(c.binListCmd(), c.binRestoreCmd(), c.binEmptyCmd())
	return cmd
}

func (c *cli) binListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List deleted invoices, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := c.commandContext(cmd)
			defer cancel()
			entries, err := c.app.Service.ListRecycleBin(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"entries": entries})
		},
	}
}

func (c *cli) binRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <entry-id>",
		Short: "Restore a deleted invoice with its payments and returns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.commandContext(cmd)
			defer cancel()
			resp, err := c.app.Service.RestoreInvoice(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func (c *cli) binEmptyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "empty",
		Short: "Permanently delete every recycle-bin entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return fmt.Errorf("emptying the recycle bin cannot be undone; pass --yes to confirm")
			}
			ctx, cancel := c.commandContext(cmd)
			defer cancel()
			resp, err := c.app.Service.EmptyRecycleBin(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().Bool("yes", false, "Confirm the irreversible purge")
	return cmd
}
