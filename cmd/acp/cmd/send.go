package cmd

import (
	"context"

	"github.com/HsiangNianian/acp/internal/agent"
	"github.com/HsiangNianian/acp/internal/protocol"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <target> <action> [payload]",
	Short: "Send one envelope and print the reply",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload any
		if len(args) == 3 {
			payload = parseJSONArg(args[2])
		}
		return withAgent(func(ctx context.Context, a *agent.Agent) error {
			reply, err := a.Send(ctx, args[0], protocol.Action(args[1]), payload)
			if err != nil {
				return err
			}
			return printEnvelope(cmd.OutOrStdout(), reply)
		})
	},
}

var replyTarget string

var respondCmd = &cobra.Command{
	Use:   "respond <request-id> <result>",
	Short: "Answer a request",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAgent(func(ctx context.Context, a *agent.Agent) error {
			reply, err := a.Respond(ctx, replyTarget, args[0], parseJSONArg(args[1]))
			if err != nil {
				return err
			}
			return printEnvelope(cmd.OutOrStdout(), reply)
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <status>",
	Short: "Send a status update",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAgent(func(ctx context.Context, a *agent.Agent) error {
			reply, err := a.Update(ctx, replyTarget, parseJSONArg(args[0]))
			if err != nil {
				return err
			}
			return printEnvelope(cmd.OutOrStdout(), reply)
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register [target]",
	Short: "Register this agent's capabilities with a peer",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var target string
		if len(args) == 1 {
			target = args[0]
		}
		return withAgent(func(ctx context.Context, a *agent.Agent) error {
			reply, err := a.Register(ctx, target)
			if err != nil {
				return err
			}
			return printEnvelope(cmd.OutOrStdout(), reply)
		})
	},
}

func init() {
	respondCmd.Flags().StringVar(&replyTarget, "target", "", "agent the response is addressed to")
	updateCmd.Flags().StringVar(&replyTarget, "target", "", "agent the update is addressed to")
	rootCmd.AddCommand(sendCmd, respondCmd, updateCmd, registerCmd)
}
