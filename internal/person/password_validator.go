package person

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const PasswordMinimumLength = 8

const specialCharacters = "!@#$%^&*()-_=+[]{}|;:'\",.<>?/`~"

var (
	ErrPasswordTooShort                    = fmt.Errorf("password should be at least %d characters", PasswordMinimumLength)
	ErrPasswordNotAlphanumeric             = errors.New("password must mix letters and digits")
	ErrPasswordDoesNotHaveSpecialCharacter = errors.New("password does not contain special characters")
)

// CheckPassword applies the sign-up password policy: minimum length, at
// least one letter and one digit, and at least one special character.
func CheckPassword(password string) error {
	if len(password) < PasswordMinimumLength {
		return ErrPasswordTooShort
	}

	var letter, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(specialCharacters, r):
			special = true
		}
	}
	if !letter || !digit {
		return ErrPasswordNotAlphanumeric
	}
	if !special {
		return ErrPasswordDoesNotHaveSpecialCharacter
	}
	return nil
}
