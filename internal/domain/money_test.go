package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFitsMoneyScale(t *testing.T) {
	tests := []struct {
		amount string
		want   bool
	}{
		{"100", true},
		{"100.5", true},
		{"100.05", true},
		{"100.050", true},
		{"-3.10", true},
		{"99.995", false},
		{"0.001", false},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, FitsMoneyScale(decimal.RequireFromString(tt.amount)))
		})
	}
}

func TestCreatePaymentParams_RejectsSubCentAmount(t *testing.T) {
	params := CreatePaymentParams{Method: MethodCash, Amount: decimal.RequireFromString("100.005"), Currency: "XOF", IdempotencyKey: "k"}
	assert.ErrorIs(t, params.Validate(), ErrInvalidInput)

	params.Amount = decimal.RequireFromString("100.00")
	assert.NoError(t, params.Validate())
}

func TestCheckTransition_TerminalStatuses(t *testing.T) {
	for _, from := range []PaymentStatus{PaymentFailed, PaymentCanceled} {
		assert.True(t, from.Terminal())
		_, err := CheckTransition(from, PaymentSuccess, false)
		assert.ErrorIs(t, err, ErrInvalidState)
	}
	assert.False(t, PaymentSuccess.Terminal())
	noop, err := CheckTransition(PaymentSuccess, PaymentCanceled, false)
	assert.NoError(t, err)
	assert.False(t, noop)
}
