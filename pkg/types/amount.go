package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// TokenAmount is an integer quantity in minor units with a fixed number of decimals
type TokenAmount struct {
	value    *big.Int
	decimals uint8
}

// NewTokenAmount wraps a minor-unit value. A nil value is zero.
func NewTokenAmount(value *big.Int, decimals uint8) TokenAmount {
	v := new(big.Int)
	if value != nil {
		v.Set(value)
	}
	return TokenAmount{value: v, decimals: decimals}
}

// ParseTokenAmount converts a human-readable decimal string ("12.5") into minor units.
// Accepts "5.", ".5" and surrounding whitespace; rejects signs, exponents and more
// fractional digits than decimals.
func ParseTokenAmount(s string, decimals uint8) (TokenAmount, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "." {
		return TokenAmount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if hasDot && strings.Contains(fracPart, ".") {
		return TokenAmount{}, fmt.Errorf("%w: %q has more than one decimal point", ErrInvalidAmount, s)
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return TokenAmount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if len(fracPart) > int(decimals) {
		return TokenAmount{}, fmt.Errorf("%w: %q allows %d", ErrTooPrecise, s, decimals)
	}

	digits := intPart + fracPart + strings.Repeat("0", int(decimals)-len(fracPart))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		digits = "0"
	}
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return TokenAmount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return TokenAmount{value: v, decimals: decimals}, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String formats the amount without trailing fractional zeros. Negative values,
// such as a difference of two amounts, keep a leading minus sign.
func (a TokenAmount) String() string {
	v := a.Int()
	if a.decimals == 0 {
		return v.String()
	}
	sign := ""
	if v.Sign() < 0 {
		sign = "-"
		v.Neg(v)
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(a.decimals)), nil)
	q, r := new(big.Int).QuoRem(v, unit, new(big.Int))
	if r.Sign() == 0 {
		return sign + q.String()
	}
	frac := r.String()
	frac = strings.Repeat("0", int(a.decimals)-len(frac)) + frac
	return sign + q.String() + "." + strings.TrimRight(frac, "0")
}

// Int returns a copy of the minor-unit value
func (a TokenAmount) Int() *big.Int {
	if a.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.value)
}

func (a TokenAmount) Decimals() uint8 { return a.decimals }

func (a TokenAmount) IsZero() bool { return a.value == nil || a.value.Sign() == 0 }

func (a TokenAmount) Sign() int {
	if a.value == nil {
		return 0
	}
	return a.value.Sign()
}

// Cmp compares minor-unit values; decimals must match for the result to be meaningful
func (a TokenAmount) Cmp(b TokenAmount) int {
	return a.Int().Cmp(b.Int())
}

// FractionDigits reports how many significant fractional digits the formatted amount has
func (a TokenAmount) FractionDigits() int {
	_, frac, ok := strings.Cut(a.String(), ".")
	if !ok {
		return 0
	}
	return len(frac)
}

func (a TokenAmount) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Value    string `json:"value"`
		Decimals uint8  `json:"decimals"`
		Display  string `json:"display"`
	}{a.Int().String(), a.decimals, a.String()})
}

func (a *TokenAmount) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value    string `json:"value"`
		Decimals uint8  `json:"decimals"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, ok := new(big.Int).SetString(raw.Value, 10)
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("%w: %q", ErrInvalidAmount, raw.Value)
	}
	a.value = v
	a.decimals = raw.Decimals
	return nil
}
