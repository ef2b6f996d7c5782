// Package node is a typed facade over client.Client for the calls a wallet
// makes against its Greenlight node.
//
// Each method encodes a fixed request, issues it through the client and
// decodes the normalized response into a struct. Byte fields arrive as hex
// strings and amounts as millisatoshi integers.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"glweb/client"
	"glweb/config"
	"glweb/stream"
)

const (
	methodGetinfo      = "cln.Node/Getinfo"
	methodNewAddr      = "cln.Node/NewAddr"
	methodInvoice      = "cln.Node/Invoice"
	methodListInvoices = "cln.Node/ListInvoices"
	methodFeerates     = "cln.Node/Feerates"
)

// Node wraps a client bound to one node.
type Node struct {
	client *client.Client
}

// New wraps c. Stop stops c.
func New(c *client.Client) *Node {
	return &Node{client: c}
}

// Connect builds a client from cfg and wraps it.
func Connect(cfg config.Config, opts ...client.Option) (*Node, error) {
	c, err := client.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return New(c), nil
}

// Client returns the underlying client for calls the facade does not cover.
func (n *Node) Client() *client.Client {
	return n.client
}

func (n *Node) call(ctx context.Context, method string, req map[string]any, out any) error {
	resp, err := n.client.Call(ctx, method, req)
	if err != nil {
		return err
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("node: %s: %w", method, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("node: %s: %w", method, err)
	}
	return nil
}

type Address struct {
	ItemType string `json:"item_type"`
	Port     uint32 `json:"port"`
	Address  string `json:"address"`
}

type Info struct {
	ID                  string    `json:"id"`
	Alias               string    `json:"alias"`
	Color               string    `json:"color"`
	NumPeers            uint32    `json:"num_peers"`
	NumPendingChannels  uint32    `json:"num_pending_channels"`
	NumActiveChannels   uint32    `json:"num_active_channels"`
	NumInactiveChannels uint32    `json:"num_inactive_channels"`
	Version             string    `json:"version"`
	LightningDir        string    `json:"lightning_dir"`
	Blockheight         uint32    `json:"blockheight"`
	Network             string    `json:"network"`
	FeesCollectedMsat   uint64    `json:"fees_collected_msat"`
	Addresses           []Address `json:"address"`
}

func (n *Node) GetInfo(ctx context.Context) (*Info, error) {
	var info Info
	if err := n.call(ctx, methodGetinfo, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// AddressType selects the kind of on-chain address NewAddr derives.
type AddressType string

const (
	AddressBech32 AddressType = "BECH32"
	AddressP2TR   AddressType = "P2TR"
	AddressAll    AddressType = "ALL"
)

type OnchainAddress struct {
	Bech32 string `json:"bech32"`
	P2TR   string `json:"p2tr"`
}

// OnchainReceive derives a fresh on-chain address. Every call returns a new
// one. An empty typ means AddressBech32.
func (n *Node) OnchainReceive(ctx context.Context, typ AddressType) (*OnchainAddress, error) {
	req := map[string]any{}
	if typ != "" {
		req["addresstype"] = string(typ)
	}
	var addr OnchainAddress
	if err := n.call(ctx, methodNewAddr, req, &addr); err != nil {
		return nil, err
	}
	return &addr, nil
}

// ReceiveRequest describes a BOLT11 invoice. A zero AmountMsat creates an
// "any amount" invoice.
type ReceiveRequest struct {
	Label       string
	Description string
	AmountMsat  uint64
	Expiry      time.Duration
	Preimage    string // hex, optional
}

type Invoice struct {
	Bolt11          string `json:"bolt11"`
	PaymentHash     string `json:"payment_hash"`
	PaymentSecret   string `json:"payment_secret"`
	ExpiresAt       uint64 `json:"expires_at"`
	CreatedIndex    uint64 `json:"created_index"`
	WarningCapacity string `json:"warning_capacity"`
	WarningOffline  string `json:"warning_offline"`
}

// Receive creates an invoice.
func (n *Node) Receive(ctx context.Context, r ReceiveRequest) (*Invoice, error) {
	amount := map[string]any{"any": true}
	if r.AmountMsat > 0 {
		amount = map[string]any{"amount": r.AmountMsat}
	}
	req := map[string]any{
		"label":       r.Label,
		"description": r.Description,
		"amount_msat": amount,
	}
	if r.Expiry > 0 {
		req["expiry"] = uint64(r.Expiry / time.Second)
	}
	if r.Preimage != "" {
		req["preimage"] = r.Preimage
	}

	var inv Invoice
	if err := n.call(ctx, methodInvoice, req, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Invoice states as reported by ListInvoices.
const (
	StatusUnpaid  = "UNPAID"
	StatusPaid    = "PAID"
	StatusExpired = "EXPIRED"
)

type InvoiceEntry struct {
	Label              string `json:"label"`
	Description        string `json:"description"`
	PaymentHash        string `json:"payment_hash"`
	Status             string `json:"status"`
	ExpiresAt          uint64 `json:"expires_at"`
	AmountMsat         uint64 `json:"amount_msat"`
	Bolt11             string `json:"bolt11"`
	PayIndex           uint64 `json:"pay_index"`
	AmountReceivedMsat uint64 `json:"amount_received_msat"`
	PaidAt             uint64 `json:"paid_at"`
	PaymentPreimage    string `json:"payment_preimage"`
}

// InvoiceFilter narrows ListInvoices. Empty fields match everything.
type InvoiceFilter struct {
	Label       string
	Invstring   string
	PaymentHash string // hex
}

func (n *Node) ListInvoices(ctx context.Context, f InvoiceFilter) ([]InvoiceEntry, error) {
	req := map[string]any{}
	if f.Label != "" {
		req["label"] = f.Label
	}
	if f.Invstring != "" {
		req["invstring"] = f.Invstring
	}
	if f.PaymentHash != "" {
		req["payment_hash"] = f.PaymentHash
	}

	var resp struct {
		Invoices []InvoiceEntry `json:"invoices"`
	}
	if err := n.call(ctx, methodListInvoices, req, &resp); err != nil {
		return nil, err
	}
	return resp.Invoices, nil
}

// FeerateStyle selects the unit of Feerates.
type FeerateStyle string

const (
	PerKB FeerateStyle = "PERKB"
	PerKW FeerateStyle = "PERKW"
)

type FeeratesPerKw struct {
	MinAcceptable   uint32 `json:"min_acceptable"`
	MaxAcceptable   uint32 `json:"max_acceptable"`
	Opening         uint32 `json:"opening"`
	MutualClose     uint32 `json:"mutual_close"`
	UnilateralClose uint32 `json:"unilateral_close"`
	Floor           uint32 `json:"floor"`
}

type Feerates struct {
	WarningMissingFeerates string         `json:"warning_missing_feerates"`
	PerKw                  *FeeratesPerKw `json:"perkw"`
}

func (n *Node) Feerates(ctx context.Context, style FeerateStyle) (*Feerates, error) {
	var fr Feerates
	if err := n.call(ctx, methodFeerates, map[string]any{"style": string(style)}, &fr); err != nil {
		return nil, err
	}
	return &fr, nil
}

// StreamNodeEvents subscribes to the node's events. See client.Subscribe for
// how an unsupported stream is reported.
func (n *Node) StreamNodeEvents(ctx context.Context) (*stream.EventStream, error) {
	return n.client.Subscribe(ctx)
}

// Stop closes every event stream and the connection.
func (n *Node) Stop() error {
	return n.client.Stop()
}
