// Package code generates and checks the six-digit hand-off confirmation codes.
//
// A code only has to be unknown to anyone but the two people standing at the
// hand-off, so verification is plain equality on the digits the caller typed.
// Attempt limiting belongs to the request layer.
package code

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Length is the number of digits in a code.
const Length = 6

var space = big.NewInt(1_000_000)

// Generate returns a uniformly random, zero-padded six-digit code.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, space)
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return fmt.Sprintf("%0*d", Length, n.Int64()), nil
}

// GeneratePair returns two distinct codes for the pickup and delivery steps.
func GeneratePair() (pickup, delivery string, err error) {
	pickup, err = Generate()
	if err != nil {
		return "", "", err
	}
	for {
		delivery, err = Generate()
		if err != nil {
			return "", "", err
		}
		if delivery != pickup {
			return pickup, delivery, nil
		}
	}
}

// Normalize keeps only the ASCII digits of s, so "123 456" and "123-456" both read as "123456".
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// Verify reports whether supplied matches expected once non-digits are stripped.
func Verify(expected, supplied string) bool {
	if len(expected) != Length {
		return false
	}
	return Normalize(supplied) == expected
}
