package schema

import "strings"

// NormalizeOutputFormat validates and normalizes an output format.
// Allowed values: "" (server native), json, csv, sql.
func NormalizeOutputFormat(value string) (OutputFormat, error) {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	switch OutputFormat(trimmed) {
	case FormatNative, FormatJSON, FormatCSV, FormatSQL:
		return OutputFormat(trimmed), nil
	default:
		return "", ErrInvalidFormat
	}
}

// NormalizeTabLabel trims a label and rejects blank results.
func NormalizeTabLabel(label string) (string, error) {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return "", ErrEmptyTabLabel
	}
	return trimmed, nil
}

// ValidateUserID ensures a user id matches [a-z0-9._-] with no normalization.
func ValidateUserID(userID UserID) error {
	raw := string(userID)
	if raw == "" {
		return ErrInvalidUser
	}
	if strings.TrimSpace(raw) != raw {
		return ErrInvalidUser
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		return ErrInvalidUser
	}
	return nil
}
