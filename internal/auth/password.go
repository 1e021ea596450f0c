// SPDX-License-Identifier: MIT

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/consultease/central/internal/fault"
)

// Two hash families coexist: bcrypt for everything new, and a legacy
// hex(sha256(salt+password)) form kept only so pre-migration admins can
// still log in. A successful legacy verification is transparently
// rehashed to bcrypt by the caller.

const minPasswordLen = 8

// weakFragments are rejected when they dominate a candidate password.
var weakFragments = []string{
	"password", "qwerty", "123456", "abcdef", "admin", "letmein",
	"welcome", "consultease", "iloveyou",
}

// HashPassword produces a bcrypt hash at the given cost.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fault.Wrap(fault.Fatal, "auth.hash", "password hashing failed", err)
	}
	return string(h), nil
}

// VerifyPassword checks a candidate against a stored hash, dispatching
// on the hash family. legacy reports whether the stored hash is the old
// salted-SHA256 form and should be upgraded.
func VerifyPassword(password, hash, salt string) (ok, legacy bool) {
	if strings.HasPrefix(hash, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, false
	}
	sum := sha256.Sum256([]byte(salt + password))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(hash))) == 1, true
}

// CheckPolicy enforces the password strength rules applied on creation
// and change: minimum length, all four character classes, and no
// well-known fragment dominating the password.
func CheckPolicy(password string) error {
	if len(password) < minPasswordLen {
		return fault.Newf(fault.Validation, "password.length",
			"password must be at least %d characters", minPasswordLen)
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return fault.New(fault.Validation, "password.classes",
			"password needs upper and lower case letters, a digit and a special character")
	}

	folded := strings.ToLower(password)
	for _, frag := range weakFragments {
		if strings.Contains(folded, frag) && len(frag)*2 > len(password) {
			return fault.Newf(fault.Validation, "password.weak",
				"password is built on the well-known pattern %q", frag)
		}
	}
	return nil
}
