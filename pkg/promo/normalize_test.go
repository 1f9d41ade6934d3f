package promo_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloomnest/entitlements/pkg/promo"
	"github.com/bloomnest/entitlements/pkg/validator"
)

func TestNormalizeAndValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "lower case is upper-cased", input: "sarah1", want: "SARAH1"},
		{name: "surrounding whitespace trimmed", input: "  mama-2026 ", want: "MAMA-2026"},
		{name: "minimum length", input: "abc", want: "ABC"},
		{name: "maximum length", input: strings.Repeat("A", 32), want: strings.Repeat("A", 32)},
		{name: "too short", input: "ab", wantErr: true},
		{name: "too long", input: strings.Repeat("A", 33), wantErr: true},
		{name: "underscore rejected", input: "SARAH_1", wantErr: true},
		{name: "inner space rejected", input: "SAR AH", wantErr: true},
		{name: "unicode rejected", input: "SÄRAH", wantErr: true},
		{name: "empty", input: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := promo.NormalizeAndValidate(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, promo.ErrValidation)
				require.ErrorIs(t, err, promo.ErrInvalidCode)
				assert.True(t, validator.ExtractValidationErrors(err).Has("code"))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTotalFreeDays(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 14, promo.TotalFreeDays(0))
	assert.Equal(t, 44, promo.TotalFreeDays(1))
	assert.Equal(t, 104, promo.TotalFreeDays(3))
	assert.Equal(t, 14, promo.TotalFreeDays(-2))
}

func TestActivationStatus_CanTransitionTo(t *testing.T) {
	t.Parallel()

	assert.True(t, promo.ActivationPending.CanTransitionTo(promo.ActivationActive))
	assert.True(t, promo.ActivationPending.CanTransitionTo(promo.ActivationApplied))
	assert.True(t, promo.ActivationActive.CanTransitionTo(promo.ActivationApplied))

	assert.False(t, promo.ActivationActive.CanTransitionTo(promo.ActivationPending))
	assert.False(t, promo.ActivationApplied.CanTransitionTo(promo.ActivationActive))
	assert.False(t, promo.ActivationApplied.CanTransitionTo(promo.ActivationApplied))
	assert.False(t, promo.ActivationStatus("revoked").Valid())
}
