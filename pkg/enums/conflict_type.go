package enums

import "fmt"

// ConflictType classifies why the remote ledger rejected a resubmission.
type ConflictType string

const (
	// ConflictDuplicateSale means the remote already booked a sale for this
	// intent, i.e. an earlier attempt succeeded but the confirmation was lost.
	ConflictDuplicateSale ConflictType = "duplicate-sale"
)

var validConflictTypes = []ConflictType{
	ConflictDuplicateSale,
}

// IsValid reports whether the value is a known ConflictType.
func (c ConflictType) IsValid() bool {
	for _, candidate := range validConflictTypes {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseConflictType converts raw input into a ConflictType.
func ParseConflictType(value string) (ConflictType, error) {
	for _, candidate := range validConflictTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid conflict type %q", value)
}
