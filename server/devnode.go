package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const (
	defaultInvoiceExpiry = 7 * 24 * 60 * 60 // seconds
	eventBuffer          = 16
)

type devInvoice struct {
	label        string
	description  string
	bolt11       string
	paymentHash  []byte
	preimage     []byte
	secret       []byte
	amountMsat   uint64
	hasAmount    bool
	paid         bool
	expiresAt    uint64
	paidAt       uint64
	payIndex     uint64
	createdIndex uint64
}

func (inv *devInvoice) status(now uint64) string {
	switch {
	case inv.paid:
		return "PAID"
	case now >= inv.expiresAt:
		return "EXPIRED"
	default:
		return "UNPAID"
	}
}

// DevNode is an in-memory node behind the cln.Node and greenlight.Node
// services. Addresses, hashes and bolt11 strings are random placeholders, not
// valid bitcoin or lightning encodings.
type DevNode struct {
	id      []byte
	alias   string
	network string
	now     func() time.Time
	logger  *zap.Logger

	mu          sync.Mutex
	blockheight uint32
	invoices    []*devInvoice
	byLabel     map[string]*devInvoice
	payIndex    uint64
	subs        map[chan map[string]any]struct{}
}

// NewDevNode creates an empty node on network ("bitcoin", "testnet", "regtest").
func NewDevNode(network string, logger *zap.Logger) *DevNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := append([]byte{0x02}, randomBytes(32)...)
	return &DevNode{
		id:          id,
		alias:       "glweb-dev",
		network:     network,
		now:         time.Now,
		logger:      logger,
		blockheight: 100,
		byLabel:     make(map[string]*devInvoice),
		subs:        make(map[chan map[string]any]struct{}),
	}
}

// ID returns the node id as hex.
func (n *DevNode) ID() string {
	return hex.EncodeToString(n.id)
}

// Register installs the node's handlers on svr.
func (n *DevNode) Register(svr *Server) error {
	unary := map[string]UnaryHandler{
		"cln.Node/Getinfo":      n.getinfo,
		"cln.Node/NewAddr":      n.newAddr,
		"cln.Node/Invoice":      n.invoice,
		"cln.Node/ListInvoices": n.listInvoices,
		"cln.Node/Feerates":     n.feerates,
	}
	for method, h := range unary {
		if err := svr.HandleUnary(method, h); err != nil {
			return err
		}
	}
	return svr.HandleStream("greenlight.Node/StreamNodeEvents", n.streamEvents)
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func (n *DevNode) hrp() string {
	switch n.network {
	case "bitcoin":
		return "bc"
	case "testnet", "signet":
		return "tb"
	default:
		return "bcrt"
	}
}

func (n *DevNode) getinfo(_ context.Context, _ map[string]any) (map[string]any, error) {
	n.mu.Lock()
	height := n.blockheight
	n.mu.Unlock()

	return map[string]any{
		"id":                    n.id,
		"alias":                 n.alias,
		"color":                 n.id[1:4],
		"num_peers":             0,
		"num_pending_channels":  0,
		"num_active_channels":   0,
		"num_inactive_channels": 0,
		"version":               "v24.02gl1",
		"lightning_dir":         "/tmp/glweb-dev/" + n.network,
		"blockheight":           height,
		"network":               n.network,
		"fees_collected_msat":   0,
	}, nil
}

func (n *DevNode) newAddr(_ context.Context, req map[string]any) (map[string]any, error) {
	kind, _ := req["addresstype"].(string)
	out := make(map[string]any)
	switch kind {
	case "", "BECH32":
		out["bech32"] = n.hrp() + "1q" + hex.EncodeToString(randomBytes(20))
	case "P2TR":
		out["p2tr"] = n.hrp() + "1p" + hex.EncodeToString(randomBytes(32))
	case "ALL":
		out["bech32"] = n.hrp() + "1q" + hex.EncodeToString(randomBytes(20))
		out["p2tr"] = n.hrp() + "1p" + hex.EncodeToString(randomBytes(32))
	default:
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "unsupported address type %s", kind)
	}
	return out, nil
}

func (n *DevNode) invoice(_ context.Context, req map[string]any) (map[string]any, error) {
	label, _ := req["label"].(string)
	description, _ := req["description"].(string)

	inv := &devInvoice{label: label, description: description}
	if amt, ok := req["amount_msat"].(map[string]any); ok {
		if msat, ok := amt["amount"].(uint64); ok {
			inv.amountMsat = msat
			inv.hasAmount = true
		}
	}

	inv.preimage = randomBytes(32)
	if p, _ := req["preimage"].(string); p != "" {
		raw, err := hex.DecodeString(p)
		if err != nil || len(raw) != 32 {
			return nil, grpcstatus.Error(codes.InvalidArgument, "preimage must be 32 bytes")
		}
		inv.preimage = raw
	}
	hash := sha256.Sum256(inv.preimage)
	inv.paymentHash = hash[:]
	inv.secret = randomBytes(32)

	expiry, _ := req["expiry"].(uint64)
	if expiry == 0 {
		expiry = defaultInvoiceExpiry
	}
	inv.expiresAt = uint64(n.now().Unix()) + expiry

	amount := "any"
	if inv.hasAmount {
		amount = fmt.Sprintf("%dmsat", inv.amountMsat)
	}
	inv.bolt11 = fmt.Sprintf("ln%s%s1p%s", n.hrp(), amount, hex.EncodeToString(hash[:16]))

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, dup := n.byLabel[label]; dup {
		return nil, grpcstatus.Errorf(codes.AlreadyExists, "Duplicate label '%s'", label)
	}
	inv.createdIndex = uint64(len(n.invoices) + 1)
	n.invoices = append(n.invoices, inv)
	n.byLabel[label] = inv

	return map[string]any{
		"bolt11":         inv.bolt11,
		"payment_hash":   inv.paymentHash,
		"payment_secret": inv.secret,
		"expires_at":     inv.expiresAt,
		"created_index":  inv.createdIndex,
	}, nil
}

func (n *DevNode) listInvoices(_ context.Context, req map[string]any) (map[string]any, error) {
	label, _ := req["label"].(string)
	invstring, _ := req["invstring"].(string)
	hash, _ := req["payment_hash"].(string)
	now := uint64(n.now().Unix())

	n.mu.Lock()
	defer n.mu.Unlock()

	list := make([]any, 0, len(n.invoices))
	for _, inv := range n.invoices {
		if label != "" && inv.label != label {
			continue
		}
		if invstring != "" && inv.bolt11 != invstring {
			continue
		}
		if hash != "" && hex.EncodeToString(inv.paymentHash) != hash {
			continue
		}
		entry := map[string]any{
			"label":        inv.label,
			"description":  inv.description,
			"payment_hash": inv.paymentHash,
			"status":       inv.status(now),
			"expires_at":   inv.expiresAt,
			"bolt11":       inv.bolt11,
		}
		if inv.hasAmount {
			entry["amount_msat"] = inv.amountMsat
		}
		if inv.paid {
			entry["pay_index"] = inv.payIndex
			entry["amount_received_msat"] = inv.amountMsat
			entry["paid_at"] = inv.paidAt
			entry["payment_preimage"] = inv.preimage
		}
		list = append(list, entry)
	}
	return map[string]any{"invoices": list}, nil
}

func (n *DevNode) feerates(_ context.Context, req map[string]any) (map[string]any, error) {
	out := map[string]any{
		"perkw": map[string]any{
			"min_acceptable":   253,
			"max_acceptable":   20000,
			"opening":          1000,
			"mutual_close":     500,
			"unilateral_close": 2000,
			"floor":            253,
		},
	}
	if style, _ := req["style"].(string); style == "PERKB" {
		out["warning_missing_feerates"] = "perkb rates are not tracked by this node"
	}
	return out, nil
}

// Pay marks the invoice labelled label as paid and pushes an invoice_paid
// event to every open event stream.
func (n *DevNode) Pay(label string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	inv, ok := n.byLabel[label]
	if !ok {
		return fmt.Errorf("devnode: no invoice labelled %q", label)
	}
	if inv.paid {
		return fmt.Errorf("devnode: invoice %q already paid", label)
	}
	n.settle(inv)
	return nil
}

// PayAll pays every unpaid, unexpired invoice in creation order and returns
// their labels.
func (n *DevNode) PayAll() []string {
	now := uint64(n.now().Unix())
	n.mu.Lock()
	defer n.mu.Unlock()

	var labels []string
	for _, inv := range n.invoices {
		if inv.status(now) != "UNPAID" {
			continue
		}
		n.settle(inv)
		labels = append(labels, inv.label)
	}
	return labels
}

// settle marks inv paid and fans the event out. Callers hold n.mu.
func (n *DevNode) settle(inv *devInvoice) {
	n.payIndex++
	inv.paid = true
	inv.payIndex = n.payIndex
	inv.paidAt = uint64(n.now().Unix())

	ev := map[string]any{
		"invoice_paid": map[string]any{
			"payment_hash": inv.paymentHash,
			"bolt11":       inv.bolt11,
			"preimage":     inv.preimage,
			"label":        inv.label,
			"amount_msat":  inv.amountMsat,
		},
	}
	for ch := range n.subs {
		select {
		case ch <- ev:
		default:
			n.logger.Warn("dropping event for slow subscriber", zap.String("label", inv.label))
		}
	}
}

// Subscribers returns the number of open event streams.
func (n *DevNode) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

func (n *DevNode) streamEvents(ctx context.Context, _ map[string]any, send func(map[string]any) error) error {
	ch := make(chan map[string]any, eventBuffer)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.subs, ch)
		n.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-ch:
			if err := send(ev); err != nil {
				return err
			}
		}
	}
}
