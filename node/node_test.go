package node

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"glweb/config"
	"glweb/message"
	"glweb/schema"
	"glweb/server"
	"glweb/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Node, *server.DevNode) {
	t.Helper()
	svr := server.NewServer(schema.Default())
	dev := server.NewDevNode("regtest", nil)
	require.NoError(t, dev.Register(svr))
	ts := httptest.NewServer(svr)
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.Endpoint = ts.URL
	n, err := Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Stop() })
	return n, dev
}

func TestGetInfo(t *testing.T) {
	n, dev := setup(t)

	info, err := n.GetInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dev.ID(), info.ID)
	assert.Equal(t, "regtest", info.Network)
	assert.Equal(t, uint32(100), info.Blockheight)
	assert.Empty(t, info.Addresses)
}

func TestOnchainReceiveReturnsFreshAddresses(t *testing.T) {
	n, _ := setup(t)
	ctx := context.Background()

	first, err := n.OnchainReceive(ctx, "")
	require.NoError(t, err)
	second, err := n.OnchainReceive(ctx, "")
	require.NoError(t, err)

	assert.NotEmpty(t, first.Bech32)
	assert.NotEqual(t, first.Bech32, second.Bech32)
	assert.Empty(t, first.P2TR)

	both, err := n.OnchainReceive(ctx, AddressAll)
	require.NoError(t, err)
	assert.NotEmpty(t, both.Bech32)
	assert.NotEmpty(t, both.P2TR)
}

func TestReceiveAndList(t *testing.T) {
	n, dev := setup(t)
	ctx := context.Background()

	inv, err := n.Receive(ctx, ReceiveRequest{Label: "coffee", Description: "one espresso", AmountMsat: 150000, Expiry: time.Hour})
	require.NoError(t, err)
	assert.Len(t, inv.PaymentHash, 64)
	assert.NotEmpty(t, inv.Bolt11)

	_, err = n.Receive(ctx, ReceiveRequest{Label: "tip", Description: "any amount"})
	require.NoError(t, err)

	list, err := n.ListInvoices(ctx, InvoiceFilter{Label: "coffee"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, StatusUnpaid, list[0].Status)
	assert.Equal(t, uint64(150000), list[0].AmountMsat)
	assert.Equal(t, inv.PaymentHash, list[0].PaymentHash)

	require.NoError(t, dev.Pay("coffee"))
	list, err = n.ListInvoices(ctx, InvoiceFilter{PaymentHash: inv.PaymentHash})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, StatusPaid, list[0].Status)
	assert.Equal(t, uint64(1), list[0].PayIndex)
	assert.Len(t, list[0].PaymentPreimage, 64)

	all, err := n.ListInvoices(ctx, InvoiceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestReceiveDuplicateLabel(t *testing.T) {
	n, _ := setup(t)
	ctx := context.Background()

	_, err := n.Receive(ctx, ReceiveRequest{Label: "dup", Description: "x"})
	require.NoError(t, err)
	_, err = n.Receive(ctx, ReceiveRequest{Label: "dup", Description: "x"})

	var rpcErr *message.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, 6, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "Duplicate label")
}

func TestFeerates(t *testing.T) {
	n, _ := setup(t)

	fr, err := n.Feerates(context.Background(), PerKW)
	require.NoError(t, err)
	require.NotNil(t, fr.PerKw)
	assert.Equal(t, uint32(253), fr.PerKw.MinAcceptable)
	assert.Empty(t, fr.WarningMissingFeerates)

	fr, err = n.Feerates(context.Background(), PerKB)
	require.NoError(t, err)
	assert.NotEmpty(t, fr.WarningMissingFeerates)
}

func TestStreamNodeEvents(t *testing.T) {
	n, dev := setup(t)
	ctx := context.Background()

	_, err := n.Receive(ctx, ReceiveRequest{Label: "paid-later", Description: "x", AmountMsat: 42000})
	require.NoError(t, err)

	events, err := n.StreamNodeEvents(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return dev.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, dev.Pay("paid-later"))

	nextCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ev, err := events.Next(nextCtx)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, stream.KindInvoicePaid, ev.Kind)
	assert.Equal(t, "paid-later", ev.InvoicePaid.Label)
	assert.Equal(t, uint64(42000), ev.InvoicePaid.AmountMsat)
}

func TestStopClosesEventStream(t *testing.T) {
	n, _ := setup(t)

	events, err := n.StreamNodeEvents(context.Background())
	require.NoError(t, err)

	require.NoError(t, n.Stop())
	assert.Equal(t, stream.Closed, events.State())

	ev, err := events.Next(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, ev)
}
