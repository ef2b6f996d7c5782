package main

import (
	"fmt"
	"os"

	"glweb/client"
	"glweb/config"
	"glweb/logging"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// GlobalFlags override values from the config file.
type GlobalFlags struct {
	ConfigPath  string
	Endpoint    string
	NodeID      string
	Credentials string
	HTTP2       bool
	Verbose     bool
	NoColor     bool
}

var (
	globalFlags GlobalFlags
	cfg         config.Config
	logger      *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "glweb",
	Short:         "grpc-web client for Greenlight nodes",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if globalFlags.ConfigPath != "" {
			cfg, err = config.Load(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
		} else {
			cfg = config.Default()
		}

		flags := cmd.Flags()
		if flags.Changed("endpoint") {
			cfg.Endpoint = globalFlags.Endpoint
		}
		if flags.Changed("node-id") {
			cfg.NodeID = globalFlags.NodeID
		}
		if flags.Changed("credentials") {
			cfg.Credentials = globalFlags.Credentials
		}
		if flags.Changed("http2") {
			cfg.HTTP2 = globalFlags.HTTP2
		}
		if globalFlags.Verbose {
			cfg.Log.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = logging.New(cfg.Log)
		if err != nil {
			return err
		}

		color.NoColor = globalFlags.NoColor || !isatty.IsTerminal(os.Stdout.Fd())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&globalFlags.ConfigPath, "config", "c", "", "YAML config file")
	pf.StringVar(&globalFlags.Endpoint, "endpoint", "", "grpc-web base URL (default http://localhost:1111)")
	pf.StringVar(&globalFlags.NodeID, "node-id", "", "hex node id, used for endpoint discovery")
	pf.StringVar(&globalFlags.Credentials, "credentials", "", "credential blob path")
	pf.BoolVar(&globalFlags.HTTP2, "http2", false, "speak HTTP/2 (h2c for http:// endpoints)")
	pf.BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "debug logging")
	pf.BoolVar(&globalFlags.NoColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(streamEventsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(credentialsCmd)
}

func newClient() (*client.Client, error) {
	return client.New(cfg, client.WithLogger(logger))
}
