package parser

import (
	"fmt"
	"time"
)

// Metadata contains context about the file being parsed.
// Extracted from directory structure: {root}/{account}/[{period}/]file.ext
//
// When Account() returns an empty string the file sat directly under the
// root. Callers then need an explicit account to import into.
type Metadata struct {
	filePath   string
	account    string // Inferred from directory (e.g., "checking")
	period     string // Optional period directory (e.g., "2025-10")
	format     Format
	detectedAt time.Time
}

// NewMetadata creates a new Metadata instance with validated required fields.
func NewMetadata(filePath string, detectedAt time.Time) (*Metadata, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if detectedAt.IsZero() {
		return nil, fmt.Errorf("detected time cannot be zero")
	}
	return &Metadata{
		filePath:   filePath,
		detectedAt: detectedAt,
	}, nil
}

// FilePath returns the file path
func (m *Metadata) FilePath() string { return m.filePath }

// Account returns the account directory name, or "" if there was none.
func (m *Metadata) Account() string { return m.account }

// Period returns the period directory name, or "" if there was none.
func (m *Metadata) Period() string { return m.period }

// Format returns the format detected for the file, if any.
func (m *Metadata) Format() Format { return m.format }

// DetectedAt returns the timestamp when the file was detected
func (m *Metadata) DetectedAt() time.Time { return m.detectedAt }

// SetAccount sets the account directory name
func (m *Metadata) SetAccount(account string) { m.account = account }

// SetPeriod sets the period
func (m *Metadata) SetPeriod(period string) { m.period = period }

// SetFormat records the detected format
func (m *Metadata) SetFormat(f Format) { m.format = f }
