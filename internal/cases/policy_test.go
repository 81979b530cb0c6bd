package cases

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateResolution(t *testing.T) {
	p := MustPolicy(PolicyConfig{})

	tests := []struct {
		name    string
		kind    Kind
		target  Status
		payload Payload
		wantErr error
		check   func(t *testing.T, res *Resolution)
	}{
		{
			name: "dispute decision without refund", kind: KindDispute, target: StatusResolved,
			payload: Payload{"decision": "Claim denied"},
			check: func(t *testing.T, res *Resolution) {
				assert.Equal(t, "Claim denied", res.Decision)
				assert.Nil(t, res.RefundAmount)
			},
		},
		{
			name: "dispute refund equal to transaction", kind: KindDispute, target: StatusResolved,
			payload: Payload{"decision": "Full refund", "refundAmount": 1200.0, "context": map[string]any{"transactionAmount": 1200}},
			check: func(t *testing.T, res *Resolution) {
				require.NotNil(t, res.RefundAmount)
				assert.Equal(t, 1200.0, *res.RefundAmount)
				require.NotNil(t, res.TransactionAmount)
				assert.Equal(t, 1200.0, *res.TransactionAmount)
			},
		},
		{
			name: "dispute zero refund", kind: KindDispute, target: StatusResolved,
			payload: Payload{"decision": "No refund", "refundAmount": 0, "context": map[string]any{"transactionAmount": 80}},
			check: func(t *testing.T, res *Resolution) {
				require.NotNil(t, res.RefundAmount)
				assert.Zero(t, *res.RefundAmount)
			},
		},
		{
			name: "dispute missing decision", kind: KindDispute, target: StatusResolved,
			payload: Payload{"refundAmount": 10, "context": map[string]any{"transactionAmount": 80}},
			wantErr: ErrInvalidResolutionPayload,
		},
		{
			name: "dispute blank decision", kind: KindDispute, target: StatusResolved,
			payload: Payload{"decision": "  "}, wantErr: ErrInvalidResolutionPayload,
		},
		{
			name: "dispute negative refund", kind: KindDispute, target: StatusResolved,
			payload: Payload{"decision": "x", "refundAmount": -1, "context": map[string]any{"transactionAmount": 80}},
			wantErr: ErrInvalidResolutionPayload,
		},
		{
			name: "dispute refund as string", kind: KindDispute, target: StatusResolved,
			payload: Payload{"decision": "x", "refundAmount": "10", "context": map[string]any{"transactionAmount": 80}},
			wantErr: ErrInvalidResolutionPayload,
		},
		{
			name: "dispute refund without context", kind: KindDispute, target: StatusResolved,
			payload: Payload{"decision": "x", "refundAmount": 10}, wantErr: ErrInvalidResolutionPayload,
		},
		{
			name: "dispute refund over cap", kind: KindDispute, target: StatusResolved,
			payload: Payload{"decision": "x", "refundAmount": 80.01, "context": map[string]any{"transactionAmount": 80}},
			wantErr: ErrRefundExceedsTransactionAmount,
		},
		{
			name: "kyc rejection", kind: KindKYC, target: StatusRejected,
			payload: Payload{"reason": " expired passport "},
			check: func(t *testing.T, res *Resolution) {
				assert.Equal(t, "expired passport", res.Reason)
				assert.Equal(t, StatusRejected, res.Outcome)
			},
		},
		{
			name: "kyc rejection without reason", kind: KindKYC, target: StatusRejected,
			payload: Payload{}, wantErr: ErrInvalidResolutionPayload,
		},
		{
			name: "fraud resolution", kind: KindFraudAlert, target: StatusResolved,
			payload: Payload{"resolution": "chargeback confirmed"},
			check:   func(t *testing.T, res *Resolution) { assert.Equal(t, "chargeback confirmed", res.Resolution) },
		},
		{
			name: "fraud resolution missing", kind: KindFraudAlert, target: StatusResolved,
			payload: Payload{"reason": "x"}, wantErr: ErrInvalidResolutionPayload,
		},
		{
			name: "listing removal", kind: KindListing, target: StatusRemoved,
			payload: Payload{"reason": "salvage title hidden"},
		},
		{
			name: "review removal without reason", kind: KindReview, target: StatusRemoved,
			payload: nil, wantErr: ErrInvalidResolutionPayload,
		},
		{
			name: "evidence escalation with notes", kind: KindShippingEvidence, target: StatusEscalated,
			payload: Payload{"notes": "tracking number reused"},
			check:   func(t *testing.T, res *Resolution) { assert.Equal(t, "tracking number reused", res.Reason) },
		},
		{
			name: "evidence rejection without reason or notes", kind: KindDeliveryEvidence, target: StatusRejected,
			payload: Payload{"notes": ""}, wantErr: ErrInvalidResolutionPayload,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := p.ValidateResolution(tc.kind, tc.target, tc.payload)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, res)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, res)
			assert.Equal(t, tc.target, res.Outcome)
			if tc.check != nil {
				tc.check(t, res)
			}
		})
	}
}

func TestValidateResolution_NoPayloadTargets(t *testing.T) {
	p := MustPolicy(PolicyConfig{})

	for _, tc := range []struct {
		kind   Kind
		target Status
	}{
		{KindKYC, StatusApproved},
		{KindListing, StatusSold},
		{KindReview, StatusApproved},
		{KindShippingEvidence, StatusApproved},
		{KindDispute, StatusEscalated},
		{KindFraudAlert, StatusMonitoring},
	} {
		res, err := p.ValidateResolution(tc.kind, tc.target, nil)
		require.NoError(t, err, "%s/%s", tc.kind, tc.target)
		assert.Nil(t, res, "%s/%s", tc.kind, tc.target)
	}

	_, err := p.ValidateResolution("auction", StatusResolved, nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestRequiresFlagging(t *testing.T) {
	p := MustPolicy(PolicyConfig{})
	assert.Equal(t, DefaultListingFlagThreshold, p.ListingFlagThreshold())
	assert.False(t, p.RequiresFlagging(DefaultListingFlagThreshold))
	assert.True(t, p.RequiresFlagging(DefaultListingFlagThreshold+1))

	strict := MustPolicy(PolicyConfig{ListingFlagThreshold: 1})
	assert.False(t, strict.RequiresFlagging(1))
	assert.True(t, strict.RequiresFlagging(2))
}
