package checkout

import (
	"database/sql"
	"testing"

	"tenantflow/config"
	"tenantflow/internal/domain/source"
	tenantflow_errors "tenantflow/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoTickets = `[{"sku":"GA","description":"General admission","unitAmount":500,"quantity":2}]`

func pricedSource(lines string) source.CheckoutSource {
	return source.CheckoutSource{Currency: "USD", LineItems: lines}
}

func TestPlatformFee(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		base, bps, fixed int64
		want             int64
	}{
		{name: "twenty percent", base: 1000, bps: 2000, want: 200},
		{name: "rounds down below half", base: 1010, bps: 250, want: 25},
		{name: "half rounds away from zero", base: 1020, bps: 250, want: 26},
		{name: "fixed only", base: 1000, bps: 0, fixed: 30, want: 30},
		{name: "variable plus fixed", base: 999, bps: 290, fixed: 30, want: 59},
		{name: "zero base carries no fee", base: 0, bps: 2000, fixed: 30, want: 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, PlatformFee(tt.base, tt.bps, tt.fixed))
		})
	}
}

func TestComputePricing_Added(t *testing.T) {
	t.Parallel()

	s, err := ComputePricing(pricedSource(twoTickets), FeePolicy{Mode: FeeAdded, Bps: 2000, Version: "v1"})
	require.NoError(t, err)

	assert.Equal(t, int64(1000), s.Gross)
	assert.Equal(t, int64(200), s.PlatformFee)
	assert.Equal(t, int64(1200), s.Total)
	assert.Equal(t, int64(1000), s.NetToOrgPending)
	assert.Equal(t, FeeAdded, s.FeeMode)
	assert.Equal(t, "v1", s.FeePolicyVersion)
	require.Len(t, s.LineItems, 1)
}

func TestComputePricing_Absorbed(t *testing.T) {
	t.Parallel()

	s, err := ComputePricing(pricedSource(twoTickets), FeePolicy{Mode: FeeAbsorbed, Bps: 2000})
	require.NoError(t, err)

	assert.Equal(t, int64(1000), s.Total)
	assert.Equal(t, int64(200), s.PlatformFee)
	assert.Equal(t, int64(800), s.NetToOrgPending)
}

func TestComputePricing_DiscountsAndTaxes(t *testing.T) {
	t.Parallel()

	src := pricedSource(twoTickets)
	src.DiscountTotal = 100
	src.TaxTotal = 90

	s, err := ComputePricing(src, FeePolicy{Mode: FeeAdded, Bps: 1000})
	require.NoError(t, err)

	// fee applies to the discounted base, not to tax
	assert.Equal(t, int64(90), s.PlatformFee)
	assert.Equal(t, int64(1080), s.Total)
	assert.Equal(t, int64(990), s.NetToOrgPending)
}

func TestComputePricing_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		src    source.CheckoutSource
		policy FeePolicy
		code   string
	}{
		{name: "no lines", src: pricedSource(`[]`), policy: FeePolicy{Mode: FeeAdded}, code: "INVALID_AMOUNT"},
		{name: "malformed lines", src: pricedSource(`{`), policy: FeePolicy{Mode: FeeAdded}, code: "INVALID_REQUEST"},
		{name: "negative unit amount", src: pricedSource(`[{"sku":"X","unitAmount":-1,"quantity":1}]`), policy: FeePolicy{Mode: FeeAdded}, code: "INVALID_AMOUNT"},
		{name: "zero quantity", src: pricedSource(`[{"sku":"X","unitAmount":100,"quantity":0}]`), policy: FeePolicy{Mode: FeeAdded}, code: "INVALID_AMOUNT"},
		{name: "negative fee policy", src: pricedSource(twoTickets), policy: FeePolicy{Mode: FeeAdded, Bps: -1}, code: "INVALID_AMOUNT"},
		{
			name:   "discount exceeds gross",
			src:    source.CheckoutSource{Currency: "USD", LineItems: twoTickets, DiscountTotal: 1001},
			policy: FeePolicy{Mode: FeeAdded},
			code:   "INVALID_AMOUNT",
		},
		{name: "absorbed fee exceeds total", src: pricedSource(twoTickets), policy: FeePolicy{Mode: FeeAbsorbed, Bps: 20000, Fixed: 1}, code: "INVALID_AMOUNT"},
		{name: "free checkout", src: pricedSource(`[{"sku":"FREE","unitAmount":0,"quantity":1}]`), policy: FeePolicy{Mode: FeeAdded}, code: "INVALID_AMOUNT"},
		{name: "unknown mode", src: pricedSource(twoTickets), policy: FeePolicy{Mode: "SPLIT"}, code: "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ComputePricing(tt.src, tt.policy)
			var verr *tenantflow_errors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.code, verr.Code)
		})
	}
}

func TestSnapshot_EncodeIsStable(t *testing.T) {
	t.Parallel()

	s, err := ComputePricing(pricedSource(twoTickets), FeePolicy{Mode: FeeAdded, Bps: 2000})
	require.NoError(t, err)

	raw1, hash1, err := s.Encode()
	require.NoError(t, err)
	raw2, hash2, err := s.Encode()
	require.NoError(t, err)

	assert.Equal(t, raw1, raw2)
	assert.Equal(t, hash1, hash2)
	assert.Len(t, hash1, 64)
	assert.Contains(t, raw1, `"platformFee":200`)

	s.PlatformFee++
	_, hash3, err := s.Encode()
	require.NoError(t, err)
	assert.NotEqual(t, hash1, hash3)
}

func TestResolveFeePolicy(t *testing.T) {
	t.Parallel()

	defaults := config.FeeConfig{DefaultBps: 500, DefaultFixed: 10, DefaultMode: "ADDED", PolicyVersion: "2024-01"}

	assert.Equal(t, FeePolicy{Mode: FeeAdded, Bps: 500, Fixed: 10, Version: "2024-01"}, ResolveFeePolicy(defaults, nil))

	partial := &source.OrganizationFeeConfig{
		FeeMode: sql.NullString{String: "ABSORBED", Valid: true},
		FeeBps:  sql.NullInt64{Int64: 2000, Valid: true},
	}
	assert.Equal(t, FeePolicy{Mode: FeeAbsorbed, Bps: 2000, Fixed: 10, Version: "2024-01"}, ResolveFeePolicy(defaults, partial))

	zeroFixed := &source.OrganizationFeeConfig{
		FeeFixed:      sql.NullInt64{Int64: 0, Valid: true},
		PolicyVersion: sql.NullString{String: "club-2025", Valid: true},
	}
	got := ResolveFeePolicy(defaults, zeroFixed)
	assert.Zero(t, got.Fixed, "an explicit zero overrides the default")
	assert.Equal(t, "club-2025", got.Version)
}
