// Package prompt wraps promptui for the interactive init flow.
package prompt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/marmos91/dittoblk/internal/bytesize"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err means the user aborted.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) || errors.Is(err, ErrAborted)
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Confirm asks a yes/no question.
func Confirm(label string, defaultYes bool) (bool, error) {
	defaultStr := "y/N"
	if defaultYes {
		defaultStr = "Y/n"
	}

	result, err := (&promptui.Prompt{
		Label:     fmt.Sprintf("%s [%s]", label, defaultStr),
		IsConfirm: true,
	}).Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, ErrAborted
		}
		// promptui reports "n" as ErrAbort
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		if result == "" {
			return defaultYes, nil
		}
		return false, err
	}

	answer := strings.ToLower(result)
	return answer == "y" || answer == "yes", nil
}

// Input prompts for text. validate may be nil.
func Input(label, defaultValue string, validate func(string) error) (string, error) {
	result, err := (&promptui.Prompt{
		Label:    label,
		Default:  defaultValue,
		Validate: validate,
	}).Run()
	return result, wrapError(err)
}

// InputInt prompts for an integer in [lo, hi].
func InputInt(label string, defaultValue, lo, hi int) (int, error) {
	result, err := Input(label, strconv.Itoa(defaultValue), IntRange(lo, hi))
	if err != nil {
		return 0, err
	}
	n, _ := strconv.Atoi(result)
	return n, nil
}

// InputSize prompts for a byte size ("1Gi", "4096") that is a positive
// multiple of align.
func InputSize(label string, defaultValue bytesize.ByteSize, align bytesize.ByteSize) (bytesize.ByteSize, error) {
	def, _ := defaultValue.MarshalText()
	result, err := Input(label, string(def), AlignedSize(align))
	if err != nil {
		return 0, err
	}
	return bytesize.ParseByteSize(result)
}

// Select asks the user to pick one of items and returns it.
func Select(label string, items []string) (string, error) {
	_, result, err := (&promptui.Select{
		Label: label,
		Items: items,
		Size:  10,
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   "> {{ . | cyan }}",
			Inactive: "  {{ . }}",
			Selected: "* {{ . | green }}",
		},
	}).Run()
	return result, wrapError(err)
}

// IntRange returns a validator accepting integers in [lo, hi].
func IntRange(lo, hi int) func(string) error {
	return func(input string) error {
		n, err := strconv.Atoi(strings.TrimSpace(input))
		if err != nil {
			return errors.New("must be a valid integer")
		}
		if n < lo || n > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
}

// AlignedSize returns a validator accepting positive sizes that are
// multiples of align.
func AlignedSize(align bytesize.ByteSize) func(string) error {
	return func(input string) error {
		b, err := bytesize.ParseByteSize(input)
		if err != nil {
			return err
		}
		if b == 0 || !b.IsAligned(align) {
			return fmt.Errorf("must be a positive multiple of %d bytes", align.Uint64())
		}
		return nil
	}
}

// NotEmpty rejects blank input.
func NotEmpty(input string) error {
	if strings.TrimSpace(input) == "" {
		return errors.New("value is required")
	}
	return nil
}
