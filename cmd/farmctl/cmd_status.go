package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"farmhands/internal/apiclient"
)

// newStatusCmd creates the "farmctl status" subcommand.
func newStatusCmd(root *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's state, attempts and return value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()
			st, err := root.client().JobStatus(ctx, args[0])
			var apiErr *apiclient.APIError
			if errors.As(err, &apiErr) && apiErr.Code == "job_not_found" {
				return fmt.Errorf("status: job %s not found", args[0])
			}
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

// newHealthCmd creates the "farmctl health" subcommand. It exits non-zero
// when the queue backend is unhealthy.
func newHealthCmd(root *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue health and the number of waiting jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()
			h, err := root.client().Health(ctx)
			var apiErr *apiclient.APIError
			if err != nil && !errors.As(err, &apiErr) {
				return fmt.Errorf("health: %w", err)
			}
			if perr := printJSON(cmd.OutOrStdout(), h); perr != nil {
				return perr
			}
			if err != nil {
				return fmt.Errorf("health: %s", h.Status)
			}
			return nil
		},
	}
}
