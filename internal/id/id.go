package id

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
)

// entryPrefix starts every journal entry number.
const entryPrefix = "JE"

// New returns a new lexically sortable identifier.
func New() string {
	return strings.ToLower(ulid.Make().String())
}

// Valid reports whether s looks like an identifier produced by New.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(strings.ToUpper(s))
	return err == nil
}

// FormatEntryNumber returns an entry number like "JE-2025-00001".
func FormatEntryNumber(year, seq int) string {
	return fmt.Sprintf("%s-%04d-%05d", entryPrefix, year, seq)
}

// ParseEntryNumber parses "JE-2025-00001" into year and sequence.
func ParseEntryNumber(number string) (year, seq int, err error) {
	parts := strings.SplitN(number, "-", 3)
	if len(parts) != 3 || parts[0] != entryPrefix {
		return 0, 0, fmt.Errorf("invalid entry number format: %q", number)
	}

	year, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid year in entry number %q: %w", number, err)
	}

	seq, err = strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid sequence in entry number %q: %w", number, err)
	}
	if seq < 1 {
		return 0, 0, fmt.Errorf("invalid sequence in entry number %q", number)
	}

	return year, seq, nil
}
