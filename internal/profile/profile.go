// Package profile defines the immutable registry of digit-collection profiles.
//
// A profile names the shape of a digit string the caller may be asked to
// enter: length bounds, default timeout and retry budget, the validator that
// accepts or rejects an in-range buffer, how the value is masked for logs and
// the LLM, and which input channels are permitted. The registry is a
// compile-time table; callers resolve operator-supplied identifiers through
// [Normalize], which folds synonyms and demotes a deprecated set to
// [Generic].
package profile

import "strings"

// Canonical profile identifiers. The set is closed; anything else must be
// folded by [Normalize] or rejected.
const (
	Verification     = "verification"
	PIN              = "pin"
	SSN              = "ssn"
	DOB              = "dob"
	RoutingNumber    = "routing_number"
	AccountNumber    = "account_number"
	CardNumber       = "card_number"
	CVV              = "cvv"
	CardExpiry       = "card_expiry"
	Zip              = "zip"
	Phone            = "phone"
	Amount           = "amount"
	Extension        = "extension"
	MemberID         = "member_id"
	PolicyNumber     = "policy_number"
	InvoiceNumber    = "invoice_number"
	OrderNumber      = "order_number"
	CaseNumber       = "case_number"
	ConfirmationCode = "confirmation_code"
	SocialLast4      = "social_last4"
	AccountLast4     = "account_last4"
	MeterNumber      = "meter_number"
	TrackingNumber   = "tracking_number"
	TicketNumber     = "ticket_number"
	Generic          = "generic"
)

// ValidatorKind selects the in-range acceptance check for a profile.
type ValidatorKind string

const (
	// ValidatorNone accepts any in-range digit string.
	ValidatorNone ValidatorKind = "none"

	// ValidatorLuhn applies the Luhn mod-10 checksum (payment cards).
	ValidatorLuhn ValidatorKind = "luhn"

	// ValidatorRouting applies the ABA weighted checksum for 9-digit US bank
	// routing numbers.
	ValidatorRouting ValidatorKind = "routing"

	// ValidatorOTP accepts any length within the profile band; the band
	// itself is enforced by the collection engine.
	ValidatorOTP ValidatorKind = "otp"

	// ValidatorDOB checks MMDD or MMDDYYYY for a plausible month and day.
	ValidatorDOB ValidatorKind = "dob"

	// ValidatorExpiry checks MMYY for a month in 1–12.
	ValidatorExpiry ValidatorKind = "expiry"
)

// MaskStrategy controls how an accepted value is rendered outside the
// short-lived collection buffer.
type MaskStrategy string

const (
	// MaskFull replaces every digit.
	MaskFull MaskStrategy = "masked"

	// MaskLast4 reveals only the trailing four digits.
	MaskLast4 MaskStrategy = "last4"
)

// Channels is the set of input channels a profile permits.
type Channels struct {
	DTMF  bool
	SMS   bool
	Voice bool
}

// Profile is one immutable row of the registry.
type Profile struct {
	// ID is the canonical identifier.
	ID string

	// MinDigits and MaxDigits bound the acceptable buffer length.
	MinDigits int
	MaxDigits int

	// TimeoutSeconds is the default collection timeout.
	TimeoutSeconds int

	// MaxRetries is the default retry budget.
	MaxRetries int

	// Validator selects the in-range acceptance check.
	Validator ValidatorKind

	// Mask selects the rendering of accepted values in logs and the LLM copy.
	Mask MaskStrategy

	// Allowed lists the input channels this profile may use.
	Allowed Channels

	// Sensitive suppresses partial-buffer echo in reprompts.
	Sensitive bool
}

// registry is the compile-time profile table.
var registry = map[string]Profile{
	Verification:     {ID: Verification, MinDigits: 4, MaxDigits: 8, TimeoutSeconds: 20, MaxRetries: 2, Validator: ValidatorOTP, Mask: MaskLast4, Allowed: Channels{DTMF: true, SMS: true, Voice: true}},
	PIN:              {ID: PIN, MinDigits: 4, MaxDigits: 6, TimeoutSeconds: 15, MaxRetries: 2, Validator: ValidatorNone, Mask: MaskFull, Allowed: Channels{DTMF: true}, Sensitive: true},
	SSN:              {ID: SSN, MinDigits: 9, MaxDigits: 9, TimeoutSeconds: 30, MaxRetries: 2, Validator: ValidatorNone, Mask: MaskFull, Allowed: Channels{DTMF: true}, Sensitive: true},
	DOB:              {ID: DOB, MinDigits: 4, MaxDigits: 8, TimeoutSeconds: 20, MaxRetries: 2, Validator: ValidatorDOB, Mask: MaskFull, Allowed: Channels{DTMF: true, Voice: true}, Sensitive: true},
	RoutingNumber:    {ID: RoutingNumber, MinDigits: 9, MaxDigits: 9, TimeoutSeconds: 30, MaxRetries: 3, Validator: ValidatorRouting, Mask: MaskLast4, Allowed: Channels{DTMF: true, SMS: true}},
	AccountNumber:    {ID: AccountNumber, MinDigits: 4, MaxDigits: 17, TimeoutSeconds: 30, MaxRetries: 3, Validator: ValidatorNone, Mask: MaskLast4, Allowed: Channels{DTMF: true, SMS: true}, Sensitive: true},
	CardNumber:       {ID: CardNumber, MinDigits: 13, MaxDigits: 19, TimeoutSeconds: 40, MaxRetries: 3, Validator: ValidatorLuhn, Mask: MaskLast4, Allowed: Channels{DTMF: true}, Sensitive: true},
	CVV:              {ID: CVV, MinDigits: 3, MaxDigits: 4, TimeoutSeconds: 15, MaxRetries: 2, Validator: ValidatorNone, Mask: MaskFull, Allowed: Channels{DTMF: true}, Sensitive: true},
	CardExpiry:       {ID: CardExpiry, MinDigits: 4, MaxDigits: 4, TimeoutSeconds: 15, MaxRetries: 2, Validator: ValidatorExpiry, Mask: MaskFull, Allowed: Channels{DTMF: true, Voice: true}},
	Zip:              {ID: Zip, MinDigits: 5, MaxDigits: 5, TimeoutSeconds: 15, MaxRetries: 2, Validator: ValidatorNone, Mask: MaskLast4, Allowed: Channels{DTMF: true, SMS: true, Voice: true}},
	Phone:            {ID: Phone, MinDigits: 10, MaxDigits: 11, TimeoutSeconds: 25, MaxRetries: 2, Validator: ValidatorNone, Mask: MaskLast4, Allowed: Channels{DTMF: true, SMS: true, Voice: true}},
	Amount:           {ID: Amount, MinDigits: 1, MaxDigits: 8, TimeoutSeconds: 20, MaxRetries: 2, Validator: ValidatorNone, Mask: MaskLast4, Allowed: Channels{DTMF: true, Voice: true}},
	Extension:        {ID: Extension, MinDigits: 1, MaxDigits: 6, TimeoutSeconds: 10, MaxRetries: 1, Validator: ValidatorNone, Mask: MaskLast4, Allowed: Channels{DTMF: true, Voice: true}},
	MemberID:         {ID: MemberID, MinDigits: 4, MaxDigits: 15, TimeoutSeconds: 30, MaxRetries: 2, Validator: ValidatorNone, Mask: MaskLast4, Allowed: Channels{DTMF: true, SMS: true, Voice: true}},
	PolicyNumber:     {ID: PolicyNumber, MinDigits: 4, MaxDigits: 15, TimeoutSeconds: 30, MaxRetries: 2, Validator: ValidatorNone, Mask: MaskLast4, Allowed: Channels{DTMF: true, SMS: true, Voice: true}},
	InvoiceNumber:    {ID: InvoiceNumber, MinDigits: 3, MaxDigits: 12, TimeoutSeconds: 25, MaxRetries: 2, Validator: ValidatorNone, Mask: MaskLast4, Allowed: Channels{DTMF: true, SMS: true, Voice: true}},
	OrderNumber:      {ID: OrderNumber, MinDigits: 3, MaxDigits: 12, TimeoutSeconds: 25, MaxRetries: 2, Validator: ValidatorNone, Mask: MaskLast4, Allowed: Channels{DTMF: true, SMS: true, Voice: true}},
	CaseNumber:       {ID: CaseNumber, MinDigits: 3, MaxDigits: 12, TimeoutSeconds: 25, MaxRetries: 2, Validator: ValidatorNone, Mask: MaskLast4, Allowed: Channels{DTMF: true, SMS: true, Voice: true}},
	ConfirmationCode: {ID: ConfirmationCode, MinDigits: 4, MaxDigits: 10, TimeoutSeconds: 20, MaxRetries: 2, Validator: ValidatorOTP, Mask: MaskLast4, Allowed: Channels{DTMF: true, SMS: true, Voice: true}},
	SocialLast4:      {ID: SocialLast4, MinDigits: 4, MaxDigits: 4, TimeoutSeconds: 15, MaxRetries: 2, Validator: ValidatorNone, Mask: MaskFull, Allowed: Channels{DTMF: true}, Sensitive: true},
	AccountLast4:     {ID: AccountLast4, MinDigits: 4, MaxDigits: 4, TimeoutSeconds: 15, MaxRetries: 2, Validator: ValidatorNone, Mask: MaskFull, Allowed: Channels{DTMF: true}, Sensitive: true},
	MeterNumber:      {ID: MeterNumber, MinDigits: 5, MaxDigits: 12, TimeoutSeconds: 25, MaxRetries: 2, Validator: ValidatorNone, Mask: MaskLast4, Allowed: Channels{DTMF: true, SMS: true, Voice: true}},
	TrackingNumber:   {ID: TrackingNumber, MinDigits: 8, MaxDigits: 22, TimeoutSeconds: 35, MaxRetries: 2, Validator: ValidatorNone, Mask: MaskLast4, Allowed: Channels{DTMF: true, SMS: true, Voice: true}},
	TicketNumber:     {ID: TicketNumber, MinDigits: 3, MaxDigits: 12, TimeoutSeconds: 25, MaxRetries: 2, Validator: ValidatorNone, Mask: MaskLast4, Allowed: Channels{DTMF: true, SMS: true, Voice: true}},
	Generic:          {ID: Generic, MinDigits: 1, MaxDigits: 50, TimeoutSeconds: 20, MaxRetries: 2, Validator: ValidatorNone, Mask: MaskLast4, Allowed: Channels{DTMF: true, SMS: true, Voice: true}},
}

// synonyms folds operator-supplied spellings onto canonical identifiers.
var synonyms = map[string]string{
	"otp":           Verification,
	"one_time_code": Verification,
	"passcode":      Verification,
	"code":          Verification,
	"pin_number":    PIN,
	"social":        SSN,
	"ssn_full":      SSN,
	"date_of_birth": DOB,
	"birthdate":     DOB,
	"birthday":      DOB,
	"routing":       RoutingNumber,
	"aba":           RoutingNumber,
	"aba_number":    RoutingNumber,
	"bank_account":  AccountNumber,
	"account":       AccountNumber,
	"acct":          AccountNumber,
	"credit_card":   CardNumber,
	"card":          CardNumber,
	"cc_number":     CardNumber,
	"cvc":           CVV,
	"cvv2":          CVV,
	"security_code": CVV,
	"expiry":        CardExpiry,
	"expiration":    CardExpiry,
	"exp_date":      CardExpiry,
	"zip_code":      Zip,
	"zipcode":       Zip,
	"postal_code":   Zip,
	"phone_number":  Phone,
	"callback":      Phone,
	"ext":           Extension,
	"member":        MemberID,
	"policy":        PolicyNumber,
	"invoice":       InvoiceNumber,
	"order":         OrderNumber,
	"case":          CaseNumber,
	"confirmation":  ConfirmationCode,
	"ssn_last4":     SocialLast4,
	"last4":         AccountLast4,
	"meter":         MeterNumber,
	"tracking":      TrackingNumber,
	"ticket":        TicketNumber,
}

// deprecated identifiers are demoted to [Generic] instead of being rejected:
// they used to be accepted but their semantics were retired.
var deprecated = map[string]struct{}{
	"password":        {},
	"full_card":       {},
	"card_with_cvv":   {},
	"account_routing": {},
}

// Lookup returns the registry row for a canonical identifier.
func Lookup(id string) (Profile, bool) {
	p, ok := registry[id]
	return p, ok
}

// Normalize folds id onto its canonical profile identifier. Synonyms map to
// their canonical row, deprecated identifiers map to [Generic], and unknown
// identifiers are rejected with ok=false — falling back to Generic is the
// ingress caller's decision, not the registry's.
func Normalize(id string) (canonical string, ok bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.ReplaceAll(id, "-", "_")
	id = strings.ReplaceAll(id, " ", "_")
	if id == "" {
		return "", false
	}
	if _, bad := deprecated[id]; bad {
		return Generic, true
	}
	if _, ok := registry[id]; ok {
		return id, true
	}
	if canon, ok := synonyms[id]; ok {
		return canon, true
	}
	return "", false
}

// All returns a copy of every registry row, for diagnostics and config
// validation. Order is unspecified.
func All() []Profile {
	out := make([]Profile, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	return out
}

// MaskDigits renders digits according to strategy. MaskLast4 keeps the final
// four digits when the value is longer than four; shorter values are fully
// masked.
func MaskDigits(digits string, strategy MaskStrategy) string {
	if digits == "" {
		return ""
	}
	if strategy == MaskLast4 && len(digits) > 4 {
		return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
	}
	return strings.Repeat("*", len(digits))
}
