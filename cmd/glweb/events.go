package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"glweb/client"
	"glweb/codec"
	"glweb/stream"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var streamEventsRaw bool

var streamEventsCmd = &cobra.Command{
	Use:   "stream-events",
	Short: "Print node events as they arrive",
	Long: `Subscribe to the node's event stream and print one line per event
until interrupted or the node ends the stream.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Stop()

		events, err := c.Subscribe(ctx)
		if errors.Is(err, client.ErrStreamUnsupported) {
			return fmt.Errorf("node does not support event streaming: %w", err)
		}
		if err != nil {
			return err
		}

		go func() {
			<-ctx.Done()
			_ = c.Stop()
		}()

		for {
			ev, err := events.Next(ctx)
			if err != nil {
				return err
			}
			if ev == nil {
				if ctx.Err() != nil || events.State() == stream.Closed {
					return nil
				}
				continue
			}
			if err := printEvent(ev); err != nil {
				return err
			}
		}
	},
}

func init() {
	streamEventsCmd.Flags().BoolVar(&streamEventsRaw, "raw", false, "print every event as normalized JSON")
}

func printEvent(ev *stream.NodeEvent) error {
	ts := color.HiBlackString(time.Now().Format(time.TimeOnly))
	if streamEventsRaw || ev.Kind != stream.KindInvoicePaid {
		out, err := codec.RenderJSON(ev.Fields)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s %s\n", ts, color.YellowString(ev.Tag), out)
		return nil
	}
	p := ev.InvoicePaid
	fmt.Printf("%s %s label=%s amount_msat=%d payment_hash=%s\n",
		ts, color.GreenString(ev.Tag), p.Label, p.AmountMsat, p.PaymentHash)
	return nil
}
