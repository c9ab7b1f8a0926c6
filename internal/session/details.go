package session

import (
	"fmt"
	"strings"
)

// SessionDetails are the debtor's loan details, captured once at session start
type SessionDetails struct {
	ClientName     string `json:"clientName"`
	MobileNumber   string `json:"mobileNumber"`
	TotalDueAmount string `json:"totalDueAmount"`
	EMIAmount      string `json:"emiAmount"`
	DueDate        string `json:"dueDate"`
}

// ValidationError reports a session detail that must be filled in
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// Validate checks that every field is present. Value formats are checked by the caller.
func (d SessionDetails) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"clientName", d.ClientName},
		{"mobileNumber", d.MobileNumber},
		{"totalDueAmount", d.TotalDueAmount},
		{"emiAmount", d.EMIAmount},
		{"dueDate", d.DueDate},
	}

	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name}
		}
	}
	return nil
}
