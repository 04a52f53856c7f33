package prompt

import (
	"github.com/manifoldco/promptui"
)

// InputRequired prompts for a line of text and keeps asking until the user
// enters something non-empty.
func InputRequired(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Validate: func(input string) error {
			if input == "" {
				return promptui.ErrAbort
			}
			return nil
		},
	}

	result, err := p.Run()
	return result, normalize(err)
}
