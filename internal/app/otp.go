package app

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	otpLength   = 6
	otpAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// generateOTP returns a random uppercase alphanumeric code.
func generateOTP(length int) (string, error) {
	if length <= 0 {
		length = otpLength
	}
	max := big.NewInt(int64(len(otpAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(otpAlphabet[n.Int64()])
	}
	return b.String(), nil
}
