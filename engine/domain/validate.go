package domain

import "strings"

// DefaultMaxReferenceChars bounds reference documents at roughly the
// embedding model's token window (~4 chars per token).
const DefaultMaxReferenceChars = 32768

// ValidateSessionID rejects non-positive session identifiers.
func ValidateSessionID(id int64) *Error {
	if id <= 0 {
		return ErrValidation("session id must be a positive integer", map[string]any{
			"session_id": id,
		})
	}
	return nil
}

// ValidateReferenceText checks the caller-supplied reference document before
// any external call is made. maxChars <= 0 falls back to
// DefaultMaxReferenceChars. Returns the trimmed text on success.
func ValidateReferenceText(text string, maxChars int) (string, *Error) {
	if maxChars <= 0 {
		maxChars = DefaultMaxReferenceChars
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrValidation("reference text cannot be empty", nil)
	}
	if len(trimmed) > maxChars {
		return "", ErrValidation("reference text too long", map[string]any{
			"length_chars": len(trimmed),
			"max_chars":    maxChars,
		})
	}
	return trimmed, nil
}
