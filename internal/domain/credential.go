package domain

import (
	"errors"
	"regexp"
)

// ErrInvalidPhoneNumber is returned for phone numbers the print server will not accept.
var ErrInvalidPhoneNumber = errors.New("invalid phone number")

var phoneNumberPattern = regexp.MustCompile(`^010[0-9]{8}$`)

// Credential identifies the user to the print server.
type Credential struct {
	PhoneNumber string
}

// ValidPhoneNumber reports whether value is an 11 digit mobile number starting with 010.
func ValidPhoneNumber(value string) bool {
	return len(value) == 11 && phoneNumberPattern.MatchString(value)
}

// Validate checks the credential before any upload is attempted.
func (c Credential) Validate() error {
	if !ValidPhoneNumber(c.PhoneNumber) {
		return ErrInvalidPhoneNumber
	}
	return nil
}
