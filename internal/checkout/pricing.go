package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"tenantflow/config"
	"tenantflow/internal/domain/source"
	tenantflow_errors "tenantflow/pkg/errors"

	"github.com/shopspring/decimal"
)

type FeeMode string

const (
	// FeeAdded charges the platform fee to the buyer on top of the price.
	FeeAdded FeeMode = "ADDED"
	// FeeAbsorbed deducts the platform fee from the organization's share.
	FeeAbsorbed FeeMode = "ABSORBED"
)

var bpsDivisor = decimal.NewFromInt(10000)

// FeePolicy is the effective platform fee for one organization.
type FeePolicy struct {
	Mode    FeeMode
	Bps     int64
	Fixed   int64
	Version string
}

// ResolveFeePolicy applies the organization override, column by column, on
// top of the platform defaults.
func ResolveFeePolicy(defaults config.FeeConfig, override *source.OrganizationFeeConfig) FeePolicy {
	p := FeePolicy{
		Mode:    FeeMode(defaults.DefaultMode),
		Bps:     defaults.DefaultBps,
		Fixed:   defaults.DefaultFixed,
		Version: defaults.PolicyVersion,
	}
	if override == nil {
		return p
	}
	if override.FeeMode.Valid {
		p.Mode = FeeMode(override.FeeMode.String)
	}
	if override.FeeBps.Valid {
		p.Bps = override.FeeBps.Int64
	}
	if override.FeeFixed.Valid {
		p.Fixed = override.FeeFixed.Int64
	}
	if override.PolicyVersion.Valid {
		p.Version = override.PolicyVersion.String
	}
	return p
}

// Snapshot is the immutable pricing record stored on the payment. Field order
// is fixed, so its JSON encoding and hash are stable.
type Snapshot struct {
	Currency         string            `json:"currency"`
	Gross            int64             `json:"gross"`
	Discounts        int64             `json:"discounts"`
	Taxes            int64             `json:"taxes"`
	PlatformFee      int64             `json:"platformFee"`
	Total            int64             `json:"total"`
	NetToOrgPending  int64             `json:"netToOrgPending"`
	FeeMode          FeeMode           `json:"feeMode"`
	FeeBps           int64             `json:"feeBps"`
	FeeFixed         int64             `json:"feeFixed"`
	FeePolicyVersion string            `json:"feePolicyVersion"`
	LineItems        []source.LineItem `json:"lineItems"`
}

func invalidAmount(format string, args ...any) error {
	return &tenantflow_errors.ValidationError{Code: "INVALID_AMOUNT", Detail: fmt.Sprintf(format, args...)}
}

// PlatformFee returns round(base * bps / 10000) + fixed, rounding half away
// from zero. A zero base carries no fee.
func PlatformFee(base, bps, fixed int64) int64 {
	if base <= 0 {
		return 0
	}
	variable := decimal.NewFromInt(base).
		Mul(decimal.NewFromInt(bps)).
		Div(bpsDivisor).
		Round(0)
	return variable.IntPart() + fixed
}

// ComputePricing derives the snapshot for src under policy. It is a pure
// function of its inputs.
func ComputePricing(src source.CheckoutSource, policy FeePolicy) (Snapshot, error) {
	lines, err := src.Lines()
	if err != nil {
		return Snapshot{}, &tenantflow_errors.ValidationError{Code: "INVALID_REQUEST", Detail: err.Error()}
	}
	if len(lines) == 0 {
		return Snapshot{}, invalidAmount("source has no line items")
	}
	if policy.Bps < 0 || policy.Fixed < 0 {
		return Snapshot{}, invalidAmount("fee policy must not be negative")
	}
	if src.DiscountTotal < 0 || src.TaxTotal < 0 {
		return Snapshot{}, invalidAmount("discounts and taxes must not be negative")
	}

	var gross int64
	for _, l := range lines {
		if l.UnitAmount < 0 || l.Quantity <= 0 {
			return Snapshot{}, invalidAmount("line %q has unit amount %d and quantity %d", l.SKU, l.UnitAmount, l.Quantity)
		}
		gross += l.UnitAmount * l.Quantity
	}
	base := gross - src.DiscountTotal
	if base < 0 {
		return Snapshot{}, invalidAmount("discounts %d exceed gross %d", src.DiscountTotal, gross)
	}

	fee := PlatformFee(base, policy.Bps, policy.Fixed)
	var total int64
	switch policy.Mode {
	case FeeAdded:
		total = base + src.TaxTotal + fee
	case FeeAbsorbed:
		total = base + src.TaxTotal
		if fee > total {
			return Snapshot{}, invalidAmount("absorbed fee %d exceeds total %d", fee, total)
		}
	default:
		return Snapshot{}, &tenantflow_errors.ValidationError{Code: "INVALID_REQUEST", Detail: fmt.Sprintf("unknown fee mode %q", policy.Mode)}
	}
	if total <= 0 {
		return Snapshot{}, invalidAmount("total must be positive")
	}

	return Snapshot{
		Currency:         src.Currency,
		Gross:            gross,
		Discounts:        src.DiscountTotal,
		Taxes:            src.TaxTotal,
		PlatformFee:      fee,
		Total:            total,
		NetToOrgPending:  total - fee,
		FeeMode:          policy.Mode,
		FeeBps:           policy.Bps,
		FeeFixed:         policy.Fixed,
		FeePolicyVersion: policy.Version,
		LineItems:        lines,
	}, nil
}

// Encode returns the snapshot JSON and its hex SHA-256.
func (s Snapshot) Encode() (string, string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", "", fmt.Errorf("encode pricing snapshot: %w", err)
	}
	sum := sha256.Sum256(raw)
	return string(raw), hex.EncodeToString(sum[:]), nil
}
