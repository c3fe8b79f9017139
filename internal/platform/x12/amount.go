package x12

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Amount is a monetary value in cents. X12 carries money as decimal text
// ("150", "150.5", "150.00"); Amount keeps it exact.
type Amount int64

// ParseAmount reads an X12 decimal. More than two fractional digits are
// rounded half away from zero.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("x12: empty amount")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("x12: invalid amount %q", s)
	}
	if !allDigits(intPart) || !allDigits(fracPart) {
		return 0, fmt.Errorf("x12: invalid amount %q", s)
	}
	var whole int64
	if intPart != "" {
		v, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("x12: invalid amount %q: %w", s, err)
		}
		whole = v
	}
	cents := int64(0)
	round := false
	for i := 0; i < len(fracPart); i++ {
		digit := int64(fracPart[i] - '0')
		switch {
		case i < 2:
			cents = cents*10 + digit
		case i == 2:
			round = digit >= 5
		}
	}
	if len(fracPart) == 1 {
		cents *= 10
	}
	total := whole*100 + cents
	if round {
		total++
	}
	if neg {
		total = -total
	}
	return Amount(total), nil
}

// MustAmount is ParseAmount for literals known to be valid.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the amount with two decimals, e.g. "150.00".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Float64 returns the amount in currency units.
func (a Amount) Float64() float64 { return float64(a) / 100 }

// Abs returns the absolute value.
func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}

// MarshalJSON writes the amount as a JSON number with two decimals.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a decimal string.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	if len(s) > 0 && s[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Date formats used by DTP/DTM segments.
const (
	DateLayout      = "20060102"
	DateShortLayout = "060102"
	TimeLayout      = "1504"
)

// FormatDate renders a CCYYMMDD date.
func FormatDate(t time.Time) string { return t.Format(DateLayout) }

// ParseDate reads a CCYYMMDD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("x12: invalid date %q: %w", s, err)
	}
	return t, nil
}

// ParseDatePeriod reads a D8 (single date) or RD8 (CCYYMMDD-CCYYMMDD) value.
func ParseDatePeriod(qualifier, value string) (from, to time.Time, err error) {
	switch qualifier {
	case "D8", "":
		from, err = ParseDate(value)
		return from, from, err
	case "RD8":
		parts := strings.SplitN(value, "-", 2)
		if len(parts) != 2 {
			return time.Time{}, time.Time{}, fmt.Errorf("x12: invalid date range %q", value)
		}
		if from, err = ParseDate(parts[0]); err != nil {
			return time.Time{}, time.Time{}, err
		}
		if to, err = ParseDate(parts[1]); err != nil {
			return time.Time{}, time.Time{}, err
		}
		return from, to, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("x12: unsupported date qualifier %q", qualifier)
	}
}
