package profile

// Rejection reason codes produced by [Validate]. The empty string means the
// buffer was accepted.
const (
	ReasonInvalidLength  = "invalid_length"
	ReasonInvalidLuhn    = "invalid_luhn"
	ReasonInvalidRouting = "invalid_routing"
	ReasonInvalidMonth   = "invalid_month"
	ReasonInvalidDay     = "invalid_day"
)

// abaWeights is the ABA routing checksum weight cycle.
var abaWeights = [9]int{3, 7, 1, 3, 7, 1, 3, 7, 1}

// Validate applies the profile's validator to an in-range digit buffer and
// returns a rejection reason code, or "" when the buffer is accepted.
//
// Length bounds are the engine's responsibility; Validate only re-checks
// length where the checksum itself demands an exact width (routing, expiry).
func Validate(p Profile, digits string) string {
	switch p.Validator {
	case ValidatorLuhn:
		if !luhnOK(digits) {
			return ReasonInvalidLuhn
		}
	case ValidatorRouting:
		if len(digits) != 9 {
			return ReasonInvalidLength
		}
		if !routingOK(digits) {
			return ReasonInvalidRouting
		}
	case ValidatorDOB:
		return validateDOB(digits)
	case ValidatorExpiry:
		if len(digits) != 4 {
			return ReasonInvalidLength
		}
		if m := twoDigits(digits, 0); m < 1 || m > 12 {
			return ReasonInvalidMonth
		}
	case ValidatorOTP, ValidatorNone:
		// Any in-range length is acceptable.
	}
	return ""
}

// luhnOK reports whether digits passes the Luhn mod-10 checksum.
func luhnOK(digits string) bool {
	if len(digits) < 2 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// routingOK applies the ABA weighted checksum: Σ weight[i]·digit[i] ≡ 0 mod 10.
func routingOK(digits string) bool {
	sum := 0
	for i := range 9 {
		d := int(digits[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		sum += abaWeights[i] * d
	}
	return sum%10 == 0
}

// validateDOB checks MMDD (4 digits) or MMDDYYYY (8 digits) for a plausible
// month and day. Other lengths are invalid.
func validateDOB(digits string) string {
	if len(digits) != 4 && len(digits) != 8 {
		return ReasonInvalidLength
	}
	m := twoDigits(digits, 0)
	if m < 1 || m > 12 {
		return ReasonInvalidMonth
	}
	d := twoDigits(digits, 2)
	if d < 1 || d > 31 {
		return ReasonInvalidDay
	}
	return ""
}

// twoDigits parses digits[off:off+2] as an integer. Returns -1 when the bytes
// are not digits.
func twoDigits(digits string, off int) int {
	if off+2 > len(digits) {
		return -1
	}
	hi := int(digits[off] - '0')
	lo := int(digits[off+1] - '0')
	if hi < 0 || hi > 9 || lo < 0 || lo > 9 {
		return -1
	}
	return hi*10 + lo
}
