package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yubzen/phonepilot/internal/agentapi"
)

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [session-id]",
		Short: "Show server health, or the agent status of a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := Bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				w := tabwriter.NewWriter(out, 2, 2, 2, ' ', 0)
				fmt.Fprintln(w, "SERVER\tSTATUS\tLATENCY")
				for _, h := range agentapi.CheckAll(cmd.Context(), []agentapi.Pinger{rt.Client}) {
					status := "online"
					if !h.IsOnline {
						status = "offline: " + h.ErrorMsg
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", h.Name, status, h.Latency.Round(time.Millisecond))
				}
				return w.Flush()
			}

			st, err := rt.Client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "connected:        %t\n", st.IsConnected)
			fmt.Fprintf(out, "task running:     %t\n", st.IsTaskRunning)
			fmt.Fprintf(out, "takeover pending: %t\n", st.HasTakeover)
			return nil
		},
	}
}

func NewStopCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Stop the running task of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := Bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()
			res, err := rt.Client.Stop(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped=%t %s\n", res.Stopped, res.Message)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Also release a stuck server-side task lock")
	return cmd
}

func NewTakeoverCmd() *cobra.Command {
	takeoverCmd := &cobra.Command{
		Use:   "takeover",
		Short: "Manual takeover control",
	}
	doneCmd := &cobra.Command{
		Use:   "done <session-id>",
		Short: "Tell the agent the manual step is finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := Bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()
			res, err := rt.Client.CompleteTakeover(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "completed=%t %s\n", res.Completed, res.Message)
			return nil
		},
	}
	takeoverCmd.AddCommand(doneCmd)
	return takeoverCmd
}

func NewDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <session-id>",
		Short: "Release the agent bound to a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := Bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.Client.Disconnect(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Disconnected agent for %s\n", args[0])
			return nil
		},
	}
}
