package auth

import "unicode"

const minPasswordLength = 8

// CheckPasswordPolicy enforces the baseline password rules: at least 8
// characters with one letter and one digit. Applied when a password is
// set, never when one is verified.
func CheckPasswordPolicy(password string) error {
	if len(password) < minPasswordLength {
		return ErrWeakPassword
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return ErrWeakPassword
	}
	return nil
}
