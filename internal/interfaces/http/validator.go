package http

import (
	"fmt"
	"regexp"
)

// Input validation constants
const (
	MinAddressLength = 6
	MaxAddressLength = 20
	MaxTextLength    = 4096
)

var addressPattern = regexp.MustCompile(fmt.Sprintf(`^[0-9]{%d,%d}$`, MinAddressLength, MaxAddressLength))

// ValidAddress checks that an address looks like a bare phone number
// (digits only, no JID suffix).
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// ValidText checks an outbound message body: non-empty and short enough
// for a single WhatsApp message.
func ValidText(s string) bool {
	return s != "" && len(s) <= MaxTextLength
}
