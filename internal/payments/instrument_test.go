package payments

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateNumber(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		valid bool
	}{
		{"known valid mastercard", "5528790000000008", true},
		{"known valid with spaces", "5528 7900 0000 0008", true},
		{"luhn failure", "5528790000000009", false},
		{"visa test number", "4111111111111111", true},
		{"too short", "411111111111", false},
		{"too long", "41111111111111111111", false},
		{"non numeric", "4111 1111 1111 111a", false},
		{"empty", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateNumber(tc.raw); got != tc.valid {
				t.Fatalf("ValidateNumber(%q) = %v, expected %v", tc.raw, got, tc.valid)
			}
		})
	}
}

func TestValidateExpiry(t *testing.T) {
	reference := time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		mmYY  string
		valid bool
	}{
		{"future year", "01/27", true},
		{"same month", "08/26", true},
		{"previous month", "07/26", false},
		{"previous year", "12/25", false},
		{"month zero", "00/27", false},
		{"month thirteen", "13/27", false},
		{"missing slash", "0827", false},
		{"garbage", "ab/cd", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateExpiry(tc.mmYY, reference); got != tc.valid {
				t.Fatalf("ValidateExpiry(%q) = %v, expected %v", tc.mmYY, got, tc.valid)
			}
		})
	}
}

func TestValidateCVV(t *testing.T) {
	cases := []struct {
		raw   string
		valid bool
	}{
		{"123", true},
		{"000", true},
		{"12", false},
		{"1234", false},
		{"12a", false},
		{"", false},
	}

	for _, tc := range cases {
		if got := ValidateCVV(tc.raw); got != tc.valid {
			t.Fatalf("ValidateCVV(%q) = %v, expected %v", tc.raw, got, tc.valid)
		}
	}
}

func TestInstrumentValidateAggregatesFields(t *testing.T) {
	reference := time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC)

	instrument := &CardInstrument{
		Number:      "5528790000000009",
		HolderName:  "",
		ExpireMonth: "13",
		ExpireYear:  "27",
		CVV:         "12",
	}

	err := instrument.Validate(reference)
	if !errors.Is(err, ErrInvalidInstrument) {
		t.Fatalf("expected ErrInvalidInstrument, got %v", err)
	}
	for _, field := range []string{"number", "expiry", "cvv", "holder_name"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("expected %q in validation error, got %q", field, err.Error())
		}
	}

	var validation *InstrumentValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected InstrumentValidationError, got %T", err)
	}
	if len(validation.Fields) != 4 {
		t.Fatalf("expected 4 failing fields, got %v", validation.Fields)
	}

	valid := &CardInstrument{
		Number:      "5528790000000008",
		HolderName:  "Jordan Reyes",
		ExpireMonth: "12",
		ExpireYear:  "28",
		CVV:         "123",
	}
	if err := valid.Validate(reference); err != nil {
		t.Fatalf("expected valid instrument, got %v", err)
	}
}

func TestInstrumentWipe(t *testing.T) {
	instrument := &CardInstrument{
		Number:      "5528790000000008",
		HolderName:  "Jordan Reyes",
		ExpireMonth: "12",
		ExpireYear:  "28",
		CVV:         "123",
	}

	instrument.Wipe()

	if instrument.Number != "" || instrument.HolderName != "" || instrument.ExpireMonth != "" || instrument.ExpireYear != "" || instrument.CVV != "" {
		t.Fatalf("expected all sensitive fields wiped, got %+v", instrument)
	}

	var nilInstrument *CardInstrument
	nilInstrument.Wipe()
}
