package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"farmhands/internal/decision"
	"farmhands/internal/queue"
)

const pollInterval = 500 * time.Millisecond

// newSubmitCmd creates the "farmctl submit" subcommand.
func newSubmitCmd(root *rootOpts) *cobra.Command {
	var (
		req  decision.Request
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit <agent-id>",
		Short: "Queue a decision request for an agent",
		Long:  "Queue a decision request as the game client would.\nWith --wait, poll the job until it finishes and print its final status.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.AIAgentID = args[0]
			ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
			defer cancel()
			c := root.client()
			handle, err := c.SubmitDecision(ctx, req)
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			if wait <= 0 {
				return printJSON(cmd.OutOrStdout(), handle)
			}

			waitCtx, cancelWait := context.WithTimeout(cmd.Context(), wait)
			defer cancelWait()
			for {
				st, err := c.JobStatus(waitCtx, handle.JobID)
				if err != nil {
					return fmt.Errorf("submit: poll %s: %w", handle.JobID, err)
				}
				if st.State == string(queue.StateCompleted) || st.State == string(queue.StateFailed) {
					return printJSON(cmd.OutOrStdout(), st)
				}
				select {
				case <-waitCtx.Done():
					return fmt.Errorf("submit: job %s still %s after %s", handle.JobID, st.State, wait)
				case <-time.After(pollInterval):
				}
			}
		},
	}
	f := cmd.Flags()
	f.Float64Var(&req.GameState.AIPosition.X, "x", 1000, "agent x position")
	f.Float64Var(&req.GameState.AIPosition.Y, "y", 1000, "agent y position")
	f.Float64Var(&req.GameState.PlayerPosition.X, "player-x", 1000, "player x position")
	f.Float64Var(&req.GameState.PlayerPosition.Y, "player-y", 1000, "player y position")
	f.Float64Var(&req.GameState.MapBounds.Width, "width", 2000, "map width")
	f.Float64Var(&req.GameState.MapBounds.Height, "height", 2000, "map height")
	f.Int64Var(&req.RequestSeq, "seq", 0, "request sequence number echoed on the delivered event")
	f.DurationVar(&wait, "wait", 0, "poll the job until it finishes, up to this long")
	return cmd
}
