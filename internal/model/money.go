package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidMoney is returned when a value cannot be represented as an
// amount with at most two fraction digits.
var ErrInvalidMoney = errors.New("invalid amount")

// Money is a fixed-point amount stored as integer cents.  It is encoded in
// JSON as a number with exactly two fraction digits (e.g. 20.00).
type Money int64

// Cents builds a Money value from an integer number of cents.
func Cents(c int64) Money { return Money(c) }

// ParseMoney parses a decimal string such as "12", "12.5" or "-3.75".
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidMoney
	}
	neg := false
	if s[0] == '-' || s[0] == '+' {
		neg = s[0] == '-'
		s = s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" && !hasFrac {
		return 0, ErrInvalidMoney
	}
	if len(frac) > 2 || (hasFrac && frac == "") {
		return 0, fmt.Errorf("%w: at most two decimal places", ErrInvalidMoney)
	}
	if whole == "" {
		whole = "0"
	}
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0, ErrInvalidMoney
		}
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > math.MaxInt64/100-1 {
		return 0, ErrInvalidMoney
	}
	var cents int64
	if frac != "" {
		if len(frac) == 1 {
			frac += "0"
		}
		cents, _ = strconv.ParseInt(frac, 10, 64)
	}
	total := units*100 + cents
	if neg {
		total = -total
	}
	return Money(total), nil
}

// MoneyFromFloat rounds f to the nearest cent.  It is used for values coming
// from collaborators that report prices as JSON floats.
func MoneyFromFloat(f float64) Money {
	return Money(math.Round(f * 100))
}

// Cents returns the amount in cents.
func (m Money) Cents() int64 { return int64(m) }

// Mul multiplies the amount by n.
func (m Money) Mul(n int) Money { return m * Money(n) }

// String renders the amount with two fraction digits.
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON encodes m as a JSON number with two fraction digits.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	// exponent notation is never produced by clients sending currency
	if strings.ContainsAny(s, "eE") {
		return ErrInvalidMoney
	}
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
