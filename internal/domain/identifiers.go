package domain

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"
)

const referenceAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ReferencePrefix starts every transfer reference number.
const ReferencePrefix = "TXN"

var (
	accountNumberMin  = new(big.Int).Exp(big.NewInt(10), big.NewInt(AccountNumberLength-1), nil)
	accountNumberSpan = new(big.Int).Sub(
		new(big.Int).Exp(big.NewInt(10), big.NewInt(AccountNumberLength), nil),
		accountNumberMin,
	)
)

// NewAccountNumber returns a random 20-digit account number without a leading zero.
func NewAccountNumber() (string, error) {
	n, err := rand.Int(rand.Reader, accountNumberSpan)
	if err != nil {
		return "", err
	}
	return n.Add(n, accountNumberMin).String(), nil
}

// IsAccountNumber reports whether s has the shape of an account number.
func IsAccountNumber(s string) bool {
	if len(s) != AccountNumberLength {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NewReferenceNumber builds "TXN" + UTC timestamp (YYYYMMDDhhmmss) + 6 random characters.
func NewReferenceNumber(now time.Time) (string, error) {
	const suffixLen = 6
	alphabetSize := big.NewInt(int64(len(referenceAlphabet)))
	var b strings.Builder
	b.Grow(len(ReferencePrefix) + 14 + suffixLen)
	b.WriteString(ReferencePrefix)
	b.WriteString(now.UTC().Format("20060102150405"))
	for i := 0; i < suffixLen; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		b.WriteByte(referenceAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCurrency upper-cases code and checks it is three ASCII letters.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", ErrInvalidCurrency
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return "", ErrInvalidCurrency
		}
	}
	return code, nil
}
