package membership

import (
	"fmt"
	"strings"

	"portal-onboarding/internal/common/validation"
)

// ApplicationPayload is the body of the one-shot create call.
type ApplicationPayload struct {
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`

	DateOfBirth string `json:"date_of_birth"`
	NationalID  string `json:"national_id,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Occupation  string `json:"occupation,omitempty"`
	Address     string `json:"address,omitempty"`

	MembershipFee int    `json:"membership_fee"`
	OrderID       string `json:"order_id"`
	PaymentID     string `json:"payment_id"`
	Signature     string `json:"signature"`

	BankDetails   *BankDetails   `json:"bank_details,omitempty"`
	Nominee       *Nominee       `json:"nominee,omitempty"`
	FamilyMembers []FamilyMember `json:"family_members"`

	DeclarationAccepted bool   `json:"declaration_accepted"`
	IdempotencyKey      string `json:"idempotency_key"`
}

// payloadSchema pins the outbound contract: optional groups are complete or
// absent, and identity fields travel together.
var payloadSchema = validation.MustCompile(`{
  "type": "object",
  "required": ["date_of_birth", "membership_fee", "order_id", "payment_id", "signature",
               "family_members", "declaration_accepted", "idempotency_key"],
  "properties": {
    "full_name": {"type": "string", "minLength": 1},
    "email": {"type": "string", "minLength": 3},
    "password": {"type": "string", "minLength": 1},
    "date_of_birth": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
    "membership_fee": {"type": "integer", "minimum": 1},
    "order_id": {"type": "string", "minLength": 1},
    "payment_id": {"type": "string", "minLength": 1},
    "signature": {"type": "string", "minLength": 1},
    "bank_details": {
      "type": "object",
      "required": ["bank_name", "account_number", "ifsc_code", "branch_name", "account_type"],
      "properties": {
        "bank_name": {"type": "string", "minLength": 1},
        "account_number": {"type": "string", "minLength": 1}
      }
    },
    "nominee": {
      "type": "object",
      "required": ["name", "relationship", "phone", "bank_name", "account_number", "ifsc_code"],
      "properties": {
        "name": {"type": "string", "minLength": 1}
      }
    },
    "family_members": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "relationship"],
        "properties": {"name": {"type": "string", "minLength": 1}}
      }
    },
    "declaration_accepted": {"enum": [true]},
    "idempotency_key": {"type": "string", "minLength": 1}
  },
  "dependencies": {
    "email": ["full_name", "password"],
    "full_name": ["email", "password"],
    "password": ["full_name", "email"]
  }
}`)

// BuildPayload flattens the record into the create-call shape. Identity fields
// are emitted only for actors without an account.
func BuildPayload(r *Record, idempotencyKey string) *ApplicationPayload {
	p := &ApplicationPayload{
		DateOfBirth:         r.Personal.DateOfBirth,
		NationalID:          r.Personal.NationalID,
		Phone:               r.Personal.Phone,
		Occupation:          r.Personal.Occupation,
		Address:             r.Personal.Address,
		MembershipFee:       r.MembershipFee,
		FamilyMembers:       append([]FamilyMember{}, r.FamilyMembers...),
		DeclarationAccepted: r.Consent,
		IdempotencyKey:      idempotencyKey,
	}

	if r.Identity != nil {
		p.FullName = r.Identity.FullName
		p.Email = r.Identity.Email
		p.Password = r.Identity.Password
	}

	if r.PaymentProof != nil {
		p.OrderID = r.PaymentProof.OrderID
		p.PaymentID = r.PaymentProof.PaymentID
		p.Signature = r.PaymentProof.Signature
	}

	if bank, ok := r.Bank.Get(); ok {
		p.BankDetails = &bank
	}
	if nominee, ok := r.Nominee.Get(); ok {
		p.Nominee = &nominee
	}

	return p
}

// CheckPayload validates a payload against the outbound contract.
func CheckPayload(p *ApplicationPayload) error {
	result, err := payloadSchema.ValidateDocument(p)
	if err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("payload violates contract: %s", strings.Join(result.GetErrorMessages(), "; "))
	}
	return nil
}
