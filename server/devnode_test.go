package server

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayAll(t *testing.T) {
	n := NewDevNode("regtest", nil)
	ctx := context.Background()
	for _, label := range []string{"a", "b"} {
		_, err := n.invoice(ctx, map[string]any{"label": label, "description": "d"})
		require.NoError(t, err)
	}
	require.NoError(t, n.Pay("a"))

	ch := make(chan map[string]any, eventBuffer)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()

	assert.Equal(t, []string{"b"}, n.PayAll())
	assert.Empty(t, n.PayAll())

	ev := <-ch
	paid, ok := ev["invoice_paid"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "b", paid["label"])

	out, err := n.listInvoices(ctx, map[string]any{})
	require.NoError(t, err)
	for _, entry := range out["invoices"].([]any) {
		assert.Equal(t, "PAID", entry.(map[string]any)["status"])
	}
}
