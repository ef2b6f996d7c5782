package main

import (
	"encoding/hex"
	"fmt"

	"glweb/credentials"

	"github.com/spf13/cobra"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage credential blobs",
}

var credentialsNewCmd = &cobra.Command{
	Use:   "new <pubkey-hex> <signature-hex> <path>",
	Short: "Write a credential blob",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, err := hex.DecodeString(args[0])
		if err != nil {
			return fmt.Errorf("pubkey: %w", err)
		}
		sig, err := hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("signature: %w", err)
		}
		return credentials.NewStatic(pub, sig).Save(args[2])
	},
}

var credentialsShowCmd = &cobra.Command{
	Use:   "show <path>",
	Short: "Print the public key of a credential blob",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentials.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(creds.PublicKey()))
		return nil
	},
}

func init() {
	credentialsCmd.AddCommand(credentialsNewCmd)
	credentialsCmd.AddCommand(credentialsShowCmd)
}
