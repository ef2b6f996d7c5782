package client

import (
	"context"
	"net/http/httptest"
	"testing"

	"glweb/config"
	"glweb/schema"
	"glweb/server"
)

func setupServerAndClient(b *testing.B) *Client {
	svr := server.NewServer(schema.Default())
	if err := server.NewDevNode("regtest", nil).Register(svr); err != nil {
		b.Fatal(err)
	}
	ts := httptest.NewServer(svr)
	b.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.Endpoint = ts.URL
	cli, err := New(cfg)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = cli.Stop() })
	return cli
}

// one goroutine, calls back to back
func BenchmarkSerialCall(b *testing.B) {
	cli := setupServerAndClient(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cli.Call(ctx, "Getinfo", nil); err != nil {
			b.Fatal(err)
		}
	}
}

// many goroutines sharing one client
func BenchmarkConcurrentCall(b *testing.B) {
	cli := setupServerAndClient(b)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := cli.Call(ctx, "NewAddr", nil); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// encode + decode only, no network
func BenchmarkCodecInvoice(b *testing.B) {
	cli := setupServerAndClient(b)
	c := cli.Codec()
	m, err := c.Registry().Lookup("Invoice")
	if err != nil {
		b.Fatal(err)
	}
	req := map[string]any{
		"label":       "bench",
		"description": "benchmark invoice",
		"amount_msat": map[string]any{"amount": uint64(150000)},
		"expiry":      3600,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := c.Marshal(m.Input, req)
		if err != nil {
			b.Fatal(err)
		}
		msg, err := c.Unmarshal(m.Input, data)
		if err != nil {
			b.Fatal(err)
		}
		_ = c.Normalize(msg)
	}
}
