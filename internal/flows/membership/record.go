package membership

import (
	"encoding/json"

	"portal-onboarding/internal/verification"
)

// Step is a wizard position, 1-based.
type Step int

const (
	StepPersonal Step = iota + 1
	StepPayment
	StepBank
	StepNominee
	StepReview
)

const (
	FirstStep = StepPersonal
	LastStep  = StepReview
)

var stepNames = map[Step]string{
	StepPersonal: "personal",
	StepPayment:  "payment",
	StepBank:     "bank",
	StepNominee:  "nominee",
	StepReview:   "review",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return "unknown"
}

// Optional is a value that is either present or absent.
type Optional[T any] struct {
	value T
	ok    bool
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

func None[T any]() Optional[T] {
	return Optional[T]{}
}

func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

func (o Optional[T]) IsSome() bool {
	return o.ok
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = None[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// IdentityDraft is collected only from actors without an account. The
// password never leaves the process except in the submission payload.
type IdentityDraft struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"-"`
}

type Personal struct {
	DateOfBirth string `json:"date_of_birth"`
	NationalID  string `json:"national_id,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Occupation  string `json:"occupation,omitempty"`
	Address     string `json:"address,omitempty"`
}

type BankDetails struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	IFSCCode      string `json:"ifsc_code"`
	BranchName    string `json:"branch_name"`
	AccountType   string `json:"account_type"`
}

// present is the all-or-nothing rule for the bank group.
func (b BankDetails) present() bool {
	return b.BankName != "" && b.AccountNumber != ""
}

type Nominee struct {
	Name          string `json:"name"`
	Relationship  string `json:"relationship"`
	Phone         string `json:"phone"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	IFSCCode      string `json:"ifsc_code"`
}

func (n Nominee) present() bool {
	return n.Name != ""
}

type FamilyMember struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	DateOfBirth  string `json:"date_of_birth,omitempty"`
	Phone        string `json:"phone,omitempty"`
}

// Record is the application in progress. Only the Controller mutates it.
type Record struct {
	Identity      *IdentityDraft        `json:"identity,omitempty"`
	Personal      Personal              `json:"personal"`
	MembershipFee int                   `json:"membership_fee"`
	PaymentProof  *verification.Proof   `json:"payment_proof,omitempty"`
	BankDraft     BankDetails           `json:"bank_draft"`
	NomineeDraft  Nominee               `json:"nominee_draft"`
	Bank          Optional[BankDetails] `json:"bank"`
	Nominee       Optional[Nominee]     `json:"nominee"`
	FamilyMembers []FamilyMember        `json:"family_members"`
	Consent       bool                  `json:"consent"`
}

// resolveOptionalGroups recomputes the optional groups from their drafts.
func (r *Record) resolveOptionalGroups() {
	if r.BankDraft.present() {
		r.Bank = Some(r.BankDraft)
	} else {
		r.Bank = None[BankDetails]()
	}
	if r.NomineeDraft.present() {
		r.Nominee = Some(r.NomineeDraft)
	} else {
		r.Nominee = None[Nominee]()
	}
}

func (r *Record) clone() Record {
	out := *r
	if r.Identity != nil {
		id := *r.Identity
		out.Identity = &id
	}
	if r.PaymentProof != nil {
		p := *r.PaymentProof
		out.PaymentProof = &p
	}
	out.FamilyMembers = append([]FamilyMember(nil), r.FamilyMembers...)
	return out
}
