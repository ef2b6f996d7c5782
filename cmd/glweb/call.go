package main

import (
	"errors"
	"fmt"
	"os"

	"glweb/codec"
	"glweb/message"
	"glweb/status"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <method> [json]",
	Short: "Issue one unary call",
	Long: `Issue one unary call and print the normalized response as JSON.

The method is a full name ("cln.Node/Getinfo") or an unambiguous short
name ("Getinfo", "getinfo"). Byte fields are given and printed as hex,
amounts as millisatoshi integers.

Examples:
  glweb call Getinfo
  glweb call NewAddr '{"addresstype": "P2TR"}'
  glweb call Invoice '{"label": "coffee", "description": "espresso", "amount_msat": {"amount": 150000}}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload map[string]any
		if len(args) == 2 {
			var err error
			payload, err = codec.ParseJSON([]byte(args[1]))
			if err != nil {
				return fmt.Errorf("payload: %w", err)
			}
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Stop()

		resp, err := c.Call(cmd.Context(), args[0], payload)
		if err != nil {
			var rpcErr *message.RPCError
			if errors.As(err, &rpcErr) {
				fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString(status.Name(rpcErr.Code)), rpcErr.Message)
				if rpcErr.Details != nil {
					out, _ := codec.RenderJSON(rpcErr.Details)
					fmt.Fprintln(os.Stderr, string(out))
				}
				return fmt.Errorf("call failed with status %d", rpcErr.Code)
			}
			return err
		}

		out, err := codec.RenderJSON(resp)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
