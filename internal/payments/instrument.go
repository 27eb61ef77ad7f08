package payments

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidInstrument is the sentinel wrapped by every instrument validation failure.
var ErrInvalidInstrument = errors.New("payments: invalid card instrument")

// InstrumentValidationError carries the names of the card fields that failed
// validation so callers can surface inline feedback per field.
type InstrumentValidationError struct {
	Fields []string
}

func (e *InstrumentValidationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidInstrument, strings.Join(e.Fields, ", "))
}

func (e *InstrumentValidationError) Unwrap() error {
	return ErrInvalidInstrument
}

const (
	minCardNumberLength = 13
	maxCardNumberLength = 19
	cvvLength           = 3
)

// CardInstrument holds raw card data for exactly one authorization round-trip.
// It must never be persisted or logged; callers wipe it once the gateway call
// returns, regardless of outcome.
type CardInstrument struct {
	Number       string
	HolderName   string
	ExpireMonth  string
	ExpireYear   string
	CVV          string
	Installments int
}

// Expiry returns the card expiry as a combined MM/YY string.
func (c *CardInstrument) Expiry() string {
	return fmt.Sprintf("%s/%s", c.ExpireMonth, c.ExpireYear)
}

// Wipe zeroes the sensitive fields so the values do not outlive the
// authorization attempt.
func (c *CardInstrument) Wipe() {
	if c == nil {
		return
	}
	c.Number = ""
	c.HolderName = ""
	c.ExpireMonth = ""
	c.ExpireYear = ""
	c.CVV = ""
}

// Validate runs the authoritative pre-submission checks and aggregates every
// failing field into a single error so the caller can surface inline feedback.
func (c *CardInstrument) Validate(reference time.Time) error {
	var fields []string
	if !ValidateNumber(c.Number) {
		fields = append(fields, "number")
	}
	if !ValidateExpiry(c.Expiry(), reference) {
		fields = append(fields, "expiry")
	}
	if !ValidateCVV(c.CVV) {
		fields = append(fields, "cvv")
	}
	if strings.TrimSpace(c.HolderName) == "" {
		fields = append(fields, "holder_name")
	}
	if len(fields) > 0 {
		return &InstrumentValidationError{Fields: fields}
	}
	return nil
}

// ValidateNumber reports whether the raw card number passes length and Luhn
// checks. Whitespace is stripped first so formatted input validates the same
// as compact input.
func ValidateNumber(raw string) bool {
	number := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if len(number) < minCardNumberLength || len(number) > maxCardNumberLength {
		return false
	}

	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		ch := number[i]
		if ch < '0' || ch > '9' {
			return false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}
	return sum%10 == 0
}

// ValidateExpiry reports whether an MM/YY expiry is a real month that has not
// elapsed relative to the reference date. Comparison granularity is the month:
// a card expiring this month is still valid.
func ValidateExpiry(mmYY string, reference time.Time) bool {
	parts := strings.Split(strings.TrimSpace(mmYY), "/")
	if len(parts) != 2 {
		return false
	}
	month, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || month < 1 || month > 12 {
		return false
	}
	year, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || year < 0 {
		return false
	}
	if len(strings.TrimSpace(parts[1])) <= 2 {
		year += 2000
	}

	expiry := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	current := time.Date(reference.Year(), reference.Month(), 1, 0, 0, 0, 0, time.UTC)
	return !expiry.Before(current)
}

// ValidateCVV reports whether the value is exactly three numeric digits.
func ValidateCVV(raw string) bool {
	value := strings.TrimSpace(raw)
	if len(value) != cvvLength {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}
	return true
}
