package profile

import "testing"

func TestNormalize_Canonical(t *testing.T) {
	for _, id := range []string{Verification, PIN, RoutingNumber, CardNumber, Generic} {
		got, ok := Normalize(id)
		if !ok || got != id {
			t.Errorf("Normalize(%q) = (%q, %v), want (%q, true)", id, got, ok, id)
		}
	}
}

func TestNormalize_Synonyms(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"bank_account", AccountNumber},
		{"cvc", CVV},
		{"zip_code", Zip},
		{"otp", Verification},
		{"aba", RoutingNumber},
		{"date_of_birth", DOB},
		{"Routing-Number", RoutingNumber}, // case and hyphen folding
		{" card ", CardNumber},
	}
	for _, tt := range tests {
		got, ok := Normalize(tt.in)
		if !ok || got != tt.want {
			t.Errorf("Normalize(%q) = (%q, %v), want (%q, true)", tt.in, got, ok, tt.want)
		}
	}
}

func TestNormalize_DeprecatedDemotesToGeneric(t *testing.T) {
	for _, id := range []string{"password", "full_card", "card_with_cvv"} {
		got, ok := Normalize(id)
		if !ok || got != Generic {
			t.Errorf("Normalize(%q) = (%q, %v), want (generic, true)", id, got, ok)
		}
	}
}

func TestNormalize_UnknownRejected(t *testing.T) {
	for _, id := range []string{"", "favourite_colour", "xyz"} {
		if got, ok := Normalize(id); ok {
			t.Errorf("Normalize(%q) = (%q, true), want rejection", id, got)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, in := range []string{"bank_account", "cvc", "otp", "password", CardNumber} {
		first, ok := Normalize(in)
		if !ok {
			t.Fatalf("Normalize(%q) rejected", in)
		}
		second, ok := Normalize(first)
		if !ok || second != first {
			t.Errorf("Normalize(Normalize(%q)) = %q, want %q", in, second, first)
		}
	}
}

func TestLookup_AllCanonicalPresent(t *testing.T) {
	if len(All()) < 25 {
		t.Errorf("registry has %d rows, want ≥ 25", len(All()))
	}
	p, ok := Lookup(Verification)
	if !ok {
		t.Fatal("verification profile missing")
	}
	if p.MinDigits != 4 || p.MaxDigits != 8 {
		t.Errorf("verification bounds = [%d,%d], want [4,8]", p.MinDigits, p.MaxDigits)
	}
}

func TestValidate_Luhn(t *testing.T) {
	card, _ := Lookup(CardNumber)
	tests := []struct {
		digits string
		want   string
	}{
		{"4242424242424242", ""},
		{"4111111111111111", ""},
		{"4242424242424241", ReasonInvalidLuhn},
		{"1234567890123456", ReasonInvalidLuhn},
	}
	for _, tt := range tests {
		if got := Validate(card, tt.digits); got != tt.want {
			t.Errorf("Validate(card, %q) = %q, want %q", tt.digits, got, tt.want)
		}
	}
}

func TestValidate_Routing(t *testing.T) {
	routing, _ := Lookup(RoutingNumber)
	tests := []struct {
		digits string
		want   string
	}{
		{"011401533", ""}, // valid ABA checksum
		{"021000021", ""},
		{"011401534", ReasonInvalidRouting},
		{"12345678", ReasonInvalidLength},
	}
	for _, tt := range tests {
		if got := Validate(routing, tt.digits); got != tt.want {
			t.Errorf("Validate(routing, %q) = %q, want %q", tt.digits, got, tt.want)
		}
	}
}

func TestValidate_DOB(t *testing.T) {
	dob, _ := Lookup(DOB)
	tests := []struct {
		digits string
		want   string
	}{
		{"0214", ""},
		{"12311990", ""},
		{"0014", ReasonInvalidMonth},
		{"1314", ReasonInvalidMonth},
		{"0200", ReasonInvalidDay},
		{"0232", ReasonInvalidDay},
		{"021", ReasonInvalidLength},
	}
	for _, tt := range tests {
		if got := Validate(dob, tt.digits); got != tt.want {
			t.Errorf("Validate(dob, %q) = %q, want %q", tt.digits, got, tt.want)
		}
	}
}

func TestValidate_Expiry(t *testing.T) {
	exp, _ := Lookup(CardExpiry)
	tests := []struct {
		digits string
		want   string
	}{
		{"0126", ""},
		{"1226", ""},
		{"0026", ReasonInvalidMonth},
		{"1326", ReasonInvalidMonth},
		{"126", ReasonInvalidLength},
	}
	for _, tt := range tests {
		if got := Validate(exp, tt.digits); got != tt.want {
			t.Errorf("Validate(expiry, %q) = %q, want %q", tt.digits, got, tt.want)
		}
	}
}

func TestValidate_OTPAnyInBand(t *testing.T) {
	otp, _ := Lookup(Verification)
	for _, d := range []string{"1234", "482917", "12345678"} {
		if got := Validate(otp, d); got != "" {
			t.Errorf("Validate(verification, %q) = %q, want accept", d, got)
		}
	}
}

func TestMaskDigits(t *testing.T) {
	tests := []struct {
		digits   string
		strategy MaskStrategy
		want     string
	}{
		{"482917", MaskFull, "******"},
		{"4242424242424242", MaskLast4, "************4242"},
		{"1234", MaskLast4, "****"}, // too short to reveal anything
		{"", MaskFull, ""},
	}
	for _, tt := range tests {
		if got := MaskDigits(tt.digits, tt.strategy); got != tt.want {
			t.Errorf("MaskDigits(%q, %s) = %q, want %q", tt.digits, tt.strategy, got, tt.want)
		}
	}
}
