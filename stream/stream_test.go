package stream

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"glweb/codec"
	"glweb/message"
	"glweb/protocol"
	"glweb/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

type fixture struct {
	codec   *codec.ProtoCodec
	decoder *Decoder
	w       *io.PipeWriter
	stream  *EventStream
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := codec.New(schema.Default())
	md, err := c.Registry().Message("greenlight.NodeEvent")
	require.NoError(t, err)

	r, w := io.Pipe()
	dec := NewDecoder(c, md)
	s := New(r, dec, nil)
	t.Cleanup(func() { _ = s.Close() })
	return &fixture{codec: c, decoder: dec, w: w, stream: s}
}

func (f *fixture) invoicePaid(t *testing.T, label string) []byte {
	t.Helper()
	md, err := f.codec.Registry().Message("greenlight.NodeEvent")
	require.NoError(t, err)
	data, err := f.codec.Marshal(md, map[string]any{
		"invoice_paid": map[string]any{
			"payment_hash": "aabb",
			"bolt11":       "lnbc10n1",
			"preimage":     "ccdd",
			"label":        label,
			"amount_msat":  uint64(10000),
		},
	})
	require.NoError(t, err)
	return data
}

func (f *fixture) send(t *testing.T, flag byte, payload []byte) {
	t.Helper()
	go func() { _ = protocol.Encode(f.w, flag, payload) }()
}

func nextWithin(t *testing.T, s *EventStream, d time.Duration) (*NodeEvent, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Next(ctx)
}

func TestInvoicePaid(t *testing.T) {
	f := newFixture(t)
	f.send(t, protocol.FlagData, f.invoicePaid(t, "coffee"))

	ev, err := nextWithin(t, f.stream, time.Second)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, KindInvoicePaid, ev.Kind)
	assert.Equal(t, TagInvoicePaid, ev.Tag)
	assert.Equal(t, &InvoicePaidEvent{
		PaymentHash: "aabb",
		Bolt11:      "lnbc10n1",
		Preimage:    "ccdd",
		Label:       "coffee",
		AmountMsat:  10000,
	}, ev.InvoicePaid)
	assert.Equal(t, Open, f.stream.State())
}

func TestArrivalOrder(t *testing.T) {
	f := newFixture(t)
	var payloads [][]byte
	for _, label := range []string{"a", "b", "c"} {
		payloads = append(payloads, f.invoicePaid(t, label))
	}
	go func() {
		for _, p := range payloads {
			_ = protocol.Encode(f.w, protocol.FlagData, p)
		}
	}()

	for _, want := range []string{"a", "b", "c"} {
		ev, err := nextWithin(t, f.stream, time.Second)
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, want, ev.InvoicePaid.Label)
	}
}

func TestUnknownVariantTag(t *testing.T) {
	f := newFixture(t)
	// field 7 does not exist on NodeEvent
	var payload []byte
	payload = protowire.AppendTag(payload, 7, protowire.BytesType)
	payload = protowire.AppendBytes(payload, []byte{0x0a, 0x01, 'x'})
	f.send(t, protocol.FlagData, payload)

	ev, err := nextWithin(t, f.stream, time.Second)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, KindUnrecognized, ev.Kind)
	assert.Equal(t, "unknown_7", ev.Tag)
	assert.Nil(t, ev.InvoicePaid)
}

func TestEmptyEvent(t *testing.T) {
	f := newFixture(t)
	f.send(t, protocol.FlagData, nil)

	ev, err := nextWithin(t, f.stream, time.Second)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, UnknownTag, ev.Tag)
}

func TestClassifyForeignTag(t *testing.T) {
	ev := Classify(map[string]any{"peer_connected": map[string]any{"id": "02ab"}})
	assert.Equal(t, KindUnrecognized, ev.Kind)
	assert.Equal(t, "peer_connected", ev.Tag)

	assert.NotPanics(t, func() { Classify(nil) })
}

func TestCancelledNextConsumesNothing(t *testing.T) {
	f := newFixture(t)

	ev, err := nextWithin(t, f.stream, 20*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, ev)
	assert.Equal(t, Open, f.stream.State())

	f.send(t, protocol.FlagData, f.invoicePaid(t, "late"))
	ev, err = nextWithin(t, f.stream, time.Second)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "late", ev.InvoicePaid.Label)
}

func TestRemoteCloseDrains(t *testing.T) {
	f := newFixture(t)
	last := f.invoicePaid(t, "last")
	go func() {
		_ = protocol.Encode(f.w, protocol.FlagData, last)
		_ = f.w.Close()
	}()

	require.Eventually(t, func() bool { return f.stream.State() == Draining }, time.Second, 5*time.Millisecond)

	ev, err := f.stream.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "last", ev.InvoicePaid.Label)

	ev, err = f.stream.Next(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, ev)
	assert.Equal(t, Closed, f.stream.State())
}

func TestTrailerEndsStream(t *testing.T) {
	f := newFixture(t)
	f.send(t, protocol.FlagTrailer, []byte("grpc-status: 0\r\n"))

	ev, err := f.stream.Next(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, ev)
	assert.Equal(t, Closed, f.stream.State())
}

func TestErrorTrailerReportedOnce(t *testing.T) {
	f := newFixture(t)
	f.send(t, protocol.FlagTrailer, []byte("grpc-status: 14\r\ngrpc-message: None\r\n"))

	_, err := f.stream.Next(context.Background())
	var rpcErr *message.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 14, rpcErr.Code)

	ev, err := f.stream.Next(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, ev)
}

func TestTruncatedFrameReportedOnce(t *testing.T) {
	f := newFixture(t)
	frame := protocol.Marshal(f.invoicePaid(t, "cut"))
	go func() {
		_, _ = f.w.Write(frame[:len(frame)-3])
		_ = f.w.Close()
	}()

	_, err := f.stream.Next(context.Background())
	var fe *protocol.FrameError
	require.ErrorAs(t, err, &fe)

	ev, err := f.stream.Next(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, ev)
	assert.Equal(t, Closed, f.stream.State())
}

func TestCloseUnblocksNext(t *testing.T) {
	f := newFixture(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ev, err := f.stream.Next(context.Background())
		assert.NoError(t, err)
		assert.Nil(t, ev)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, f.stream.Close())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Next still blocked after Close")
	}
}

func TestNextNilForeverAfterClose(t *testing.T) {
	f := newFixture(t)
	f.send(t, protocol.FlagData, f.invoicePaid(t, "queued"))
	require.Eventually(t, func() bool {
		f.stream.mu.Lock()
		defer f.stream.mu.Unlock()
		return len(f.stream.queue) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.stream.Close())
	require.NoError(t, f.stream.Close())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, err := f.stream.Next(context.Background())
			assert.NoError(t, err)
			assert.Nil(t, ev)
		}()
	}
	wg.Wait()
	assert.Equal(t, Closed, f.stream.State())
}

type countingBody struct {
	io.Reader
	mu     sync.Mutex
	closes int
}

func (b *countingBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return nil
}

func TestBodyClosedOnce(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	body := &countingBody{Reader: r}
	s := New(body, NewDecoder(codec.New(schema.Default()), nil), nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, body.closes)
}

func TestDrainReleasesBody(t *testing.T) {
	r, w := io.Pipe()
	body := &countingBody{Reader: r}
	s := New(body, NewDecoder(codec.New(schema.Default()), nil), nil)
	go func() {
		_ = protocol.Encode(w, protocol.FlagTrailer, []byte("grpc-status: 0\r\n"))
		_ = w.Close()
	}()

	ev, err := s.Next(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, ev)
	assert.Equal(t, Closed, s.State())

	select {
	case <-s.Done():
	default:
		t.Fatal("drained stream still holds its body")
	}
	require.NoError(t, s.Close())
	body.mu.Lock()
	defer body.mu.Unlock()
	assert.Equal(t, 1, body.closes)
}
