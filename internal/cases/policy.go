package cases

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const DefaultListingFlagThreshold = 3

// PolicyConfig holds the tunables of the resolution policy.
type PolicyConfig struct {
	ListingFlagThreshold int `yaml:"listing_flag_threshold" json:"listing_flag_threshold"`
}

type policyKey struct {
	kind   Kind
	target Status
}

// Policy validates the payload of transitions into terminal states and
// normalizes it into a Resolution.
type Policy struct {
	schemas       map[policyKey]*jsonschema.Schema
	flagThreshold int
}

func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	if cfg.ListingFlagThreshold <= 0 {
		cfg.ListingFlagThreshold = DefaultListingFlagThreshold
	}

	sources := map[policyKey]string{
		{KindDispute, StatusResolved}:           disputeResolvedSchema,
		{KindKYC, StatusRejected}:               reasonRequiredSchema,
		{KindFraudAlert, StatusResolved}:        fraudResolvedSchema,
		{KindListing, StatusRemoved}:            reasonRequiredSchema,
		{KindReview, StatusRemoved}:             reasonRequiredSchema,
		{KindShippingEvidence, StatusRejected}:  evidenceReasonSchema,
		{KindShippingEvidence, StatusEscalated}: evidenceReasonSchema,
		{KindDeliveryEvidence, StatusRejected}:  evidenceReasonSchema,
		{KindDeliveryEvidence, StatusEscalated}: evidenceReasonSchema,
	}

	p := &Policy{
		schemas:       make(map[policyKey]*jsonschema.Schema, len(sources)),
		flagThreshold: cfg.ListingFlagThreshold,
	}
	for key, src := range sources {
		name := fmt.Sprintf("%s_%s.json", key.kind, key.target)
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		p.schemas[key] = schema
	}
	return p, nil
}

// MustPolicy is NewPolicy for package-level defaults and tests.
func MustPolicy(cfg PolicyConfig) *Policy {
	p, err := NewPolicy(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

// ListingFlagThreshold returns the configured flag threshold.
func (p *Policy) ListingFlagThreshold() int { return p.flagThreshold }

// RequiresFlagging reports whether a listing with flagCount flags must be
// moved to flagged before it is removed. The policy does not enforce the
// ordering itself.
func (p *Policy) RequiresFlagging(flagCount int) bool {
	return flagCount > p.flagThreshold
}

// ValidateResolution checks payload for a transition of kind into target.
// It returns nil for targets that carry no resolution data (non-terminal
// targets, approvals, sold).
func (p *Policy) ValidateResolution(kind Kind, target Status, payload Payload) (*Resolution, error) {
	if _, ok := graphs[kind]; !ok {
		return nil, ErrUnknownKind
	}
	if !IsTerminal(kind, target) {
		return nil, nil
	}
	schema, ok := p.schemas[policyKey{kind, target}]
	if !ok {
		return nil, nil
	}

	doc, err := normalize(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResolutionPayload, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResolutionPayload, err)
	}

	res := &Resolution{
		Outcome: target,
		Reason:  strings.TrimSpace(payload.String("reason")),
	}
	switch {
	case kind == KindDispute:
		res.Decision = strings.TrimSpace(payload.String("decision"))
		if err := applyRefund(res, doc); err != nil {
			return nil, err
		}
	case kind == KindFraudAlert:
		res.Resolution = strings.TrimSpace(payload.String("resolution"))
	case kind.IsEvidence() && res.Reason == "":
		res.Reason = strings.TrimSpace(payload.String("notes"))
	}
	return res, nil
}

func applyRefund(res *Resolution, doc any) error {
	obj, _ := doc.(map[string]any)
	raw, ok := obj["refundAmount"]
	if !ok {
		return nil
	}
	refund, err := toFloat(raw)
	if err != nil {
		return fmt.Errorf("%w: refundAmount: %v", ErrInvalidResolutionPayload, err)
	}

	ctx, _ := obj["context"].(map[string]any)
	rawTx, ok := ctx["transactionAmount"]
	if !ok {
		return fmt.Errorf("%w: refundAmount requires context.transactionAmount", ErrInvalidResolutionPayload)
	}
	tx, err := toFloat(rawTx)
	if err != nil {
		return fmt.Errorf("%w: context.transactionAmount: %v", ErrInvalidResolutionPayload, err)
	}
	if refund > tx {
		return fmt.Errorf("%w: refund %.2f > transaction %.2f", ErrRefundExceedsTransactionAmount, refund, tx)
	}

	res.RefundAmount = &refund
	res.TransactionAmount = &tx
	return nil
}

// normalize round-trips payload through JSON with numbers decoded as
// json.Number, matching what the request validator sees.
func normalize(payload Payload) (any, error) {
	if payload == nil {
		payload = Payload{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	default:
		return 0, errors.New("not a number")
	}
}
