package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"glweb/codec"
	"glweb/config"
	"glweb/node"
	"glweb/schema"
	"glweb/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCallCommand(t *testing.T) {
	svr := server.NewServer(schema.Default())
	dev := server.NewDevNode("regtest", nil)
	require.NoError(t, dev.Register(svr))
	ts := httptest.NewServer(svr)
	defer ts.Close()

	out, err := run(t, "--endpoint", ts.URL, "--no-color", "call", "getinfo")
	require.NoError(t, err)
	resp, err := codec.ParseJSON([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, dev.ID(), resp["id"])

	_, err = run(t, "--endpoint", ts.URL, "--no-color", "call", "Invoice", `{"label": "x"`)
	assert.ErrorContains(t, err, "payload")
}

func TestCredentialsCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds")

	_, err := run(t, "credentials", "new", "02abcd", "0102", path)
	require.NoError(t, err)

	out, err := run(t, "credentials", "show", path)
	require.NoError(t, err)
	assert.Equal(t, "02abcd\n", out)
}

func TestAutoPay(t *testing.T) {
	logger = zap.NewNop()
	svr := server.NewServer(schema.Default())
	dev := server.NewDevNode("regtest", nil)
	require.NoError(t, dev.Register(svr))
	ts := httptest.NewServer(svr)
	defer ts.Close()

	c := config.Default()
	c.Endpoint = ts.URL
	n, err := node.Connect(c)
	require.NoError(t, err)
	defer n.Stop()

	_, err = n.Receive(context.Background(), node.ReceiveRequest{Label: "tip", Description: "coffee"})
	require.NoError(t, err)

	done := make(chan struct{})
	defer close(done)
	go autoPay(dev, 10*time.Millisecond, done)

	require.Eventually(t, func() bool {
		list, err := n.ListInvoices(context.Background(), node.InvoiceFilter{Label: "tip"})
		return err == nil && len(list) == 1 && list[0].Status == node.StatusPaid
	}, 2*time.Second, 10*time.Millisecond)
}
