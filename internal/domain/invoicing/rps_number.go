package invoicing

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// RpsNumberLength is the fixed digit count of an RPS number.
const RpsNumberLength = 8

// DigitSource returns n random decimal digits.
type DigitSource func(n int) string

// RandomDigits draws n digits from crypto/rand.
func RandomDigits(n int) string {
	var b strings.Builder
	b.Grow(n)
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			b.WriteByte('0')
			continue
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String()
}

// NewRpsNumber returns existing when it is set. Otherwise it derives an RPS
// number from the order number followed by random digits, exactly
// RpsNumberLength long. The order-derived prefix is stable across retries of
// the same order; the suffix is drawn once per call.
func NewRpsNumber(orderNumber, existing string, digits DigitSource) string {
	if existing = strings.TrimSpace(existing); existing != "" {
		return existing
	}
	if digits == nil {
		digits = RandomDigits
	}

	prefix := onlyDigits(orderNumber)
	if len(prefix) >= RpsNumberLength {
		return prefix[:RpsNumberLength]
	}
	return prefix + digits(RpsNumberLength-len(prefix))
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
