package digits

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// smsSession tracks an in-flight SMS fallback for one call.
type smsSession struct {
	CorrelationID string
	Phone         string
}

// newCorrelationID builds the fallback correlation id from the call id's
// trailing characters plus a random suffix: SMS-<last6>-<random>.
func newCorrelationID(callID string) string {
	tail := callID
	if len(tail) > 6 {
		tail = tail[len(tail)-6:]
	}
	var buf [3]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("SMS-%s-%s", tail, hex.EncodeToString(buf[:]))
}

// smsFallbackReasons are the rejection reasons that qualify an expectation
// for the SMS fallback path.
var smsFallbackReasons = map[string]struct{}{
	ReasonLowConfidence: {},
	ReasonTimeout:       {},
	ReasonSpamPattern:   {},
	ReasonTooFast:       {},
}

// qualifiesForSMSFallback reports whether the expectation has accumulated
// enough qualifying retries to switch to SMS.
func qualifiesForSMSFallback(exp *Expectation, lastReason string, minRetries int) bool {
	if !exp.AllowSMSFallback {
		return false
	}
	if _, ok := smsFallbackReasons[lastReason]; !ok {
		return false
	}
	return exp.Retries >= minRetries
}

// smsFallbackBody renders the message texted to the caller.
func smsFallbackBody(exp *Expectation, correlationID string) string {
	label := strings.ReplaceAll(exp.Profile, "_", " ")
	return fmt.Sprintf(
		"We couldn't capture your %s over the phone. Reply to this message with the digits. Reference: %s",
		label, correlationID)
}

// parseSMSDigits extracts the digit payload from an inbound SMS body.
func parseSMSDigits(body string) string {
	return cleanDigits(body)
}
