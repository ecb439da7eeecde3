package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/HsiangNianian/acp/internal/agent"
	"github.com/HsiangNianian/acp/internal/delegation"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var delegateCmd = &cobra.Command{
	Use:   "delegate <target> <description>",
	Short: "Delegate a task to a peer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAgent(func(ctx context.Context, a *agent.Agent) error {
			taskID, err := a.Delegate(ctx, args[0], args[1])
			if errors.Is(err, delegation.ErrRejected) {
				color.New(color.FgRed).Fprintf(cmd.OutOrStdout(), "rejected by %s\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "accepted")
			fmt.Fprintf(cmd.OutOrStdout(), " task %s\n", taskID)
			return nil
		})
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <task-id> <result>",
	Short: "Report the result of a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAgent(func(ctx context.Context, a *agent.Agent) error {
			reply, err := a.Complete(ctx, args[0], parseJSONArg(args[1]))
			if err != nil {
				return err
			}
			return printEnvelope(cmd.OutOrStdout(), reply)
		})
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List delegated tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Store.TaskDBPath == "" {
			color.New(color.FgYellow).Fprintln(cmd.ErrOrStderr(), "no task_db_path configured; tasks are not kept between runs")
		}
		return withAgent(func(ctx context.Context, a *agent.Agent) error {
			tasks, err := a.Tasks(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK ID\tTARGET\tSTATUS\tUPDATED\tDESCRIPTION")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.TaskID, t.Target, t.Status, t.UpdatedAt.Local().Format(time.DateTime), t.Description)
			}
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(delegateCmd, completeCmd, tasksCmd)
}
