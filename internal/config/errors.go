package config

import "errors"

var (
	// ErrInvalid wraps every validation failure returned by Validate.
	ErrInvalid = errors.New("invalid configuration")

	// ErrVocabularyNotFound is returned when an explicitly named vocabulary
	// file does not exist. A missing file in the XDG location is not an error.
	ErrVocabularyNotFound = errors.New("vocabulary file not found")
)
