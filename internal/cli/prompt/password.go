package prompt

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
)

// ErrPasswordMismatch indicates the confirmation entry differed.
var ErrPasswordMismatch = errors.New("passwords do not match")

// Password prompts for a masked password with no validation. Used where the
// server decides whether the value is acceptable (current-password checks).
func Password(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Mask:  '*',
	}

	result, err := p.Run()
	return result, normalize(err)
}

// PasswordWithValidation prompts for a masked password of at least minLength
// characters.
func PasswordWithValidation(label string, minLength int) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Mask:  '*',
		Validate: func(input string) error {
			if len(input) < minLength {
				return fmt.Errorf("password must be at least %d characters", minLength)
			}
			return nil
		},
	}

	result, err := p.Run()
	return result, normalize(err)
}

// PasswordWithConfirmation prompts twice and requires both entries to match.
func PasswordWithConfirmation(label, confirmLabel string, minLength int) (string, error) {
	password, err := PasswordWithValidation(label, minLength)
	if err != nil {
		return "", err
	}

	confirm, err := Password(confirmLabel)
	if err != nil {
		return "", err
	}

	if password != confirm {
		return "", ErrPasswordMismatch
	}
	return password, nil
}
