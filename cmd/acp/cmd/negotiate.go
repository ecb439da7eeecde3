package cmd

import (
	"context"
	"fmt"

	"github.com/HsiangNianian/acp/internal/agent"
	"github.com/HsiangNianian/acp/internal/negotiation"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var maxRounds int

var negotiateCmd = &cobra.Command{
	Use:   "negotiate <target> <proposal>",
	Short: "Negotiate a proposal with a peer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAgent(func(ctx context.Context, a *agent.Agent) error {
			res, err := a.Negotiate(ctx, args[0], parseJSONArg(args[1]), maxRounds)
			out := cmd.OutOrStdout()
			stateColor := color.New(color.FgYellow)
			switch res.State {
			case negotiation.Accepted:
				stateColor = color.New(color.FgGreen, color.Bold)
			case negotiation.Rejected, negotiation.TransportFailed, negotiation.Failed:
				stateColor = color.New(color.FgRed)
			}
			stateColor.Fprintf(out, "%s", res.State)
			fmt.Fprintf(out, " after %d round(s)\n", res.Rounds)
			if err != nil {
				return err
			}
			if res.State == negotiation.Accepted {
				fmt.Fprintf(out, "result: %s\n", res.Result)
			} else {
				fmt.Fprintf(out, "last proposal: %s\n", res.Proposal)
			}
			return nil
		})
	},
}

func init() {
	negotiateCmd.Flags().IntVar(&maxRounds, "max-rounds", 0, "round-trip limit (default from config)")
	rootCmd.AddCommand(negotiateCmd)
}
