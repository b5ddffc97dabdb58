package parser

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"csv", FormatCSV, false},
		{"TSV", FormatCSV, false},
		{"xlsx", FormatSpreadsheet, false},
		{"fixed", FormatFixedLayout, false},
		{" pdf ", FormatDocument, false},
		{"qfx", FormatOFX, false},
		{"docx", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewMetadata(t *testing.T) {
	now := time.Now()

	meta, err := NewMetadata("/statements/checking/2025-01/jan.csv", now)
	require.NoError(t, err)
	assert.Equal(t, "/statements/checking/2025-01/jan.csv", meta.FilePath())
	assert.Equal(t, now, meta.DetectedAt())
	assert.Empty(t, meta.Account())
	assert.Empty(t, meta.Period())

	meta.SetAccount("checking")
	meta.SetPeriod("2025-01")
	meta.SetFormat(FormatCSV)
	assert.Equal(t, "checking", meta.Account())
	assert.Equal(t, "2025-01", meta.Period())
	assert.Equal(t, FormatCSV, meta.Format())

	_, err = NewMetadata("", now)
	assert.Error(t, err)
	_, err = NewMetadata("/a.csv", time.Time{})
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"plain utf8", []byte("Date,Amount\n"), "Date,Amount\n"},
		{"utf8 bom", append([]byte{0xEF, 0xBB, 0xBF}, "Date"...), "Date"},
		{"utf16le bom", []byte{0xFF, 0xFE, 'D', 0, 'a', 0, 't', 0, 'e', 0}, "Date"},
		{"utf16be bom", []byte{0xFE, 0xFF, 0, 'D', 0, 'a', 0, 't', 0, 'e'}, "Date"},
		{"windows-1252", []byte{'C', 'a', 'f', 0xE9, ' ', 0x80, '5'}, "Café €5"},
		{"empty", []byte{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestDecodeReader(t *testing.T) {
	got, err := DecodeReader(strings.NewReader("Date,Amount"))
	require.NoError(t, err)
	assert.Equal(t, "Date,Amount", got)

	_, err = DecodeReader(failingReader{})
	assert.True(t, errors.Is(err, domain.ErrSourceUnreadable))
}
