package membership

import (
	"fmt"
	"time"

	"portal-onboarding/internal/common/validation"
)

const dateLayout = "2006-01-02"

// Rules parameterize the per-step checks.
type Rules struct {
	MinimumFee        int
	PasswordMinLength int
	Today             time.Time
}

// ValidateStep returns field → message for every problem on step. An empty
// map means the step is valid. The record is never modified.
func ValidateStep(step Step, r *Record, rules Rules) map[string]string {
	errs := make(map[string]string)

	switch step {
	case StepPersonal:
		validatePersonal(r, rules, errs)
	case StepPayment:
		validateFee(r, rules, errs)
	case StepBank, StepNominee:
		// optional groups accept anything, including nothing
	case StepReview:
		validatePersonal(r, rules, errs)
		validateFee(r, rules, errs)
	}

	return errs
}

func validatePersonal(r *Record, rules Rules, errs map[string]string) {
	if id := r.Identity; id != nil {
		if id.FullName == "" {
			errs["identity.full_name"] = "Full name is required"
		}
		switch {
		case id.Email == "":
			errs["identity.email"] = "Email is required"
		case !validation.ValidateEmail(id.Email):
			errs["identity.email"] = "Enter a valid email address"
		}
		switch {
		case id.Password == "":
			errs["identity.password"] = "Password is required"
		case len(id.Password) < rules.PasswordMinLength:
			errs["identity.password"] = fmt.Sprintf("Password must be at least %d characters", rules.PasswordMinLength)
		}
	}

	if r.Personal.DateOfBirth == "" {
		errs["personal.date_of_birth"] = "Date of birth is required"
	} else if dob, err := time.Parse(dateLayout, r.Personal.DateOfBirth); err != nil {
		errs["personal.date_of_birth"] = "Use the format YYYY-MM-DD"
	} else if !rules.Today.IsZero() && dob.After(rules.Today) {
		errs["personal.date_of_birth"] = "Date of birth cannot be in the future"
	}

	if r.Personal.Phone != "" && !validation.ValidatePhone(r.Personal.Phone) {
		errs["personal.phone"] = "Enter a valid phone number"
	}
}

func validateFee(r *Record, rules Rules, errs map[string]string) {
	if r.MembershipFee < rules.MinimumFee {
		errs[FieldMembershipFee] = fmt.Sprintf("Minimum fee is %d", rules.MinimumFee)
	}
}
