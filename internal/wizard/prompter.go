package wizard

import (
	"llmn/internal/services"

	"github.com/charmbracelet/huh"
	"github.com/cockroachdb/errors"
)

// ErrAborted is returned when the user cancels a prompt.
var ErrAborted = errors.New("aborted by user")

// HuhPrompter asks questions in the terminal.
type HuhPrompter struct {
	// Accessible switches huh to plain line prompts.
	Accessible bool
}

// Select implements services.Prompter. Disabled options are listed in the
// description but cannot be chosen.
func (p HuhPrompter) Select(title string, options []services.Option, current string) (string, error) {
	value := current
	var opts []huh.Option[string]
	var unavailable string
	for _, o := range options {
		if o.Disabled {
			unavailable += "\n  " + o.Label
			continue
		}
		opts = append(opts, huh.NewOption(o.Label, o.Value).Selected(o.Value == current))
	}

	sel := huh.NewSelect[string]().
		Title(title).
		Options(opts...).
		Value(&value)
	if unavailable != "" {
		sel = sel.Description("Unavailable:" + unavailable)
	}

	if err := huh.NewForm(huh.NewGroup(sel)).WithAccessible(p.Accessible).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", ErrAborted
		}
		return "", err
	}
	return value, nil
}

// Confirm asks a yes/no question.
func (p HuhPrompter) Confirm(title string, def bool) (bool, error) {
	value := def
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Value(&value),
	)).WithAccessible(p.Accessible).Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, ErrAborted
		}
		return false, err
	}
	return value, nil
}

// Input asks for a single line of text.
func (p HuhPrompter) Input(title, placeholder string, validate func(string) error) (string, error) {
	var value string
	input := huh.NewInput().
		Title(title).
		Placeholder(placeholder).
		Value(&value)
	if validate != nil {
		input = input.Validate(validate)
	}
	if err := huh.NewForm(huh.NewGroup(input)).WithAccessible(p.Accessible).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", ErrAborted
		}
		return "", err
	}
	return value, nil
}
