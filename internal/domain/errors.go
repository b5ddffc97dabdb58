package domain

import "errors"

// Error taxonomy shared by parsers, the ledger, and the outer surfaces.
// Callers match with errors.Is; producers wrap with fmt.Errorf("...: %w").
var (
	// ErrFormat marks an unparseable amount or date. Recoverable per row.
	ErrFormat = errors.New("format error")

	// ErrSourceUnreadable marks a file or document that cannot be opened or decoded.
	ErrSourceUnreadable = errors.New("source unreadable")

	// ErrLowSignalDocument marks extracted text below the minimum content threshold.
	ErrLowSignalDocument = errors.New("low signal document")

	ErrNotFound = errors.New("not found")

	// ErrValidation marks caller input that breaks an invariant, such as a rule
	// referencing an unknown category.
	ErrValidation = errors.New("validation error")

	ErrStorageUnavailable = errors.New("storage unavailable")
)
