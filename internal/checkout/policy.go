package checkout

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"tenantflow/internal/domain/source"
	tenantflow_errors "tenantflow/pkg/errors"
)

const (
	CodeAccessDenied          = "ACCESS_DENIED"
	CodeInviteRequired        = "INVITE_REQUIRED"
	CodeInviteInvalid         = "INVITE_INVALID"
	CodeGuestCheckoutDisabled = "GUEST_CHECKOUT_DISABLED"
)

// HashInviteToken is the stored form of an invite token.
func HashInviteToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// checkAccess fails closed: any mode it does not recognise is denied.
func checkAccess(src source.CheckoutSource, buyerIdentityRef, inviteToken string) error {
	if src.Status != source.StatusOpen {
		return &tenantflow_errors.ValidationError{Code: "SOURCE_NOT_OPEN", Detail: "source status is " + src.Status}
	}
	if buyerIdentityRef == "" && !src.GuestCheckoutAllowed {
		return &tenantflow_errors.PolicyError{Code: CodeGuestCheckoutDisabled}
	}

	switch src.AccessMode {
	case source.AccessPublic:
		return nil
	case source.AccessInviteOnly:
		if inviteToken == "" {
			return &tenantflow_errors.PolicyError{Code: CodeInviteRequired}
		}
		if !src.InviteTokenHash.Valid {
			return &tenantflow_errors.PolicyError{Code: CodeAccessDenied}
		}
		given := HashInviteToken(inviteToken)
		if subtle.ConstantTimeCompare([]byte(given), []byte(src.InviteTokenHash.String)) != 1 {
			return &tenantflow_errors.PolicyError{Code: CodeInviteInvalid}
		}
		return nil
	default:
		return &tenantflow_errors.PolicyError{Code: CodeAccessDenied}
	}
}
