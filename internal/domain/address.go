package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	phonePattern   = regexp.MustCompile(`^\d{10}$`)
	pincodePattern = regexp.MustCompile(`^\d{6}$`)
)

type Address struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	Pincode      string `json:"pincode"`
	Country      string `json:"country,omitempty"`
}

// FieldError describes a single invalid field, suitable for rendering next to
// the offending input.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("invalid %s: %s", e.Fields[0].Field, e.Fields[0].Message)
	}
	return fmt.Sprintf("%d invalid fields", len(e.Fields))
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Validate checks the address invariants: required fields non-empty after
// trimming, phone is exactly 10 digits, pincode exactly 6. Returns nil when
// the address is valid.
func (a Address) Validate() *ValidationError {
	verr := &ValidationError{}

	required := []struct {
		field string
		value string
	}{
		{"name", a.Name},
		{"phone", a.Phone},
		{"address_line1", a.AddressLine1},
		{"city", a.City},
		{"state", a.State},
		{"pincode", a.Pincode},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			verr.add(f.field, f.field+" is required")
		}
	}

	if strings.TrimSpace(a.Phone) != "" && !phonePattern.MatchString(a.Phone) {
		verr.add("phone", "must be a 10-digit phone number")
	}
	if strings.TrimSpace(a.Pincode) != "" && !pincodePattern.MatchString(a.Pincode) {
		verr.add("pincode", "must be a 6-digit pincode")
	}

	if len(verr.Fields) == 0 {
		return nil
	}
	return verr
}

// ValidPhone reports whether s is a 10-digit phone number. Used by the OTP
// endpoints, which accept a bare phone rather than a full address.
func ValidPhone(s string) bool {
	return phonePattern.MatchString(s)
}
