package membership

import (
	"strconv"
	"strings"

	apperrors "portal-onboarding/internal/common/errors"
)

const (
	FieldMembershipFee = "membership_fee"
	FieldConsent       = "consent"
	FieldPayment       = "payment"
)

var identityFields = map[string]func(*IdentityDraft) *string{
	"identity.full_name": func(d *IdentityDraft) *string { return &d.FullName },
	"identity.email":     func(d *IdentityDraft) *string { return &d.Email },
	"identity.password":  func(d *IdentityDraft) *string { return &d.Password },
}

var recordFields = map[string]func(*Record) *string{
	"personal.date_of_birth": func(r *Record) *string { return &r.Personal.DateOfBirth },
	"personal.national_id":   func(r *Record) *string { return &r.Personal.NationalID },
	"personal.phone":         func(r *Record) *string { return &r.Personal.Phone },
	"personal.occupation":    func(r *Record) *string { return &r.Personal.Occupation },
	"personal.address":       func(r *Record) *string { return &r.Personal.Address },

	"bank.bank_name":      func(r *Record) *string { return &r.BankDraft.BankName },
	"bank.account_number": func(r *Record) *string { return &r.BankDraft.AccountNumber },
	"bank.ifsc_code":      func(r *Record) *string { return &r.BankDraft.IFSCCode },
	"bank.branch_name":    func(r *Record) *string { return &r.BankDraft.BranchName },
	"bank.account_type":   func(r *Record) *string { return &r.BankDraft.AccountType },

	"nominee.name":           func(r *Record) *string { return &r.NomineeDraft.Name },
	"nominee.relationship":   func(r *Record) *string { return &r.NomineeDraft.Relationship },
	"nominee.phone":          func(r *Record) *string { return &r.NomineeDraft.Phone },
	"nominee.bank_name":      func(r *Record) *string { return &r.NomineeDraft.BankName },
	"nominee.account_number": func(r *Record) *string { return &r.NomineeDraft.AccountNumber },
	"nominee.ifsc_code":      func(r *Record) *string { return &r.NomineeDraft.IFSCCode },
}

// applyField writes one value into the record. It returns an error and leaves
// the record untouched when the value cannot be stored.
func applyField(r *Record, path, value string) error {
	if setter, ok := identityFields[path]; ok {
		if r.Identity == nil {
			return apperrors.NewFieldError(path, "Account details come from your signed-in profile")
		}
		if path != "identity.password" {
			value = strings.TrimSpace(value)
		}
		*setter(r.Identity) = value
		return nil
	}

	if setter, ok := recordFields[path]; ok {
		*setter(r) = strings.TrimSpace(value)
		if strings.HasPrefix(path, "bank.") || strings.HasPrefix(path, "nominee.") {
			r.resolveOptionalGroups()
		}
		return nil
	}

	switch path {
	case FieldMembershipFee:
		if r.PaymentProof != nil {
			return apperrors.NewPaymentAlreadyConfirmedError()
		}
		value = strings.TrimSpace(value)
		if value == "" {
			r.MembershipFee = 0
			return nil
		}
		fee, err := strconv.Atoi(value)
		if err != nil {
			return apperrors.NewFieldError(path, "Enter a whole amount")
		}
		if fee < 0 {
			return apperrors.NewFieldError(path, "Amount must be positive")
		}
		r.MembershipFee = fee
		return nil

	case FieldConsent:
		consent, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return apperrors.NewFieldError(path, "Consent must be true or false")
		}
		r.Consent = consent
		return nil
	}

	return apperrors.NewFieldError(path, "Unknown field")
}

// FieldPaths lists every settable path for an actor.
func FieldPaths(anonymous bool) []string {
	paths := make([]string, 0, len(identityFields)+len(recordFields)+2)
	if anonymous {
		for p := range identityFields {
			paths = append(paths, p)
		}
	}
	for p := range recordFields {
		paths = append(paths, p)
	}
	return append(paths, FieldMembershipFee, FieldConsent)
}
