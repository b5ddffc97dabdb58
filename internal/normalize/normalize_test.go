package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1,285.00", 128500},
		{"-1,050.00", -105000},
		{"(100.00)", -10000},
		{"0.09", 9},
		{"7,703.79", 770379},
		{"$50.00", 5000},
		{"-$5.00", -500},
		{"$-5.00", -500},
		{"($50.00)", -5000},
		{"50.00-", -5000},
		{"$50.00CR", 5000},
		{"50.00 DR", -5000},
		{"+12.5", 1250},
		{"12", 1200},
		{".5", 50},
		{"€1234.00", 123400},
		{"  42.10  ", 4210},
		{"1.005", 101},
		{"-1.005", -101},
		{"2.345", 235},
		{"1.004", 100},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, input := range []string{"", "   ", "abc", "1.2.3", "1e5", "--", "$", "12 34x"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseAmount(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrFormat), "want ErrFormat, got %v", err)
		})
	}
}

func TestParseAmountWith_ChargesNegative(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"5.50", -550},
		{"113.19CR", 11319},
		{"$50.00CR", 5000},
		{"($50.00)", -5000},
		{"50.00-", -5000},
		{"-50.00", -5000},
		{"1,234.56", -123456},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmountWith(tt.input, ChargesNegative)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1285.00", FormatAmount(128500))
	assert.Equal(t, "-1050.00", FormatAmount(-105000))
	assert.Equal(t, "0.09", FormatAmount(9))
	assert.Equal(t, "-0.05", FormatAmount(-5))
	assert.Equal(t, "0.00", FormatAmount(0))
}

func TestAmountRoundTrip(t *testing.T) {
	inputs := []string{"1,285.00", "-1,050.00", "(100.00)", "0.09", "$50.00CR", "50.00-", "1.005", "999,999,999.99", "0"}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			first, err := ParseAmount(input)
			require.NoError(t, err)
			second, err := ParseAmount(FormatAmount(first))
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input string
		hint  string
		want  domain.Date
	}{
		{"2025-01-06", "", domain.NewDate(2025, time.January, 6)},
		{"01/06/2025", "", domain.NewDate(2025, time.January, 6)},
		{"1/6/2025", "", domain.NewDate(2025, time.January, 6)},
		{"01/15/25", "", domain.NewDate(2025, time.January, 15)},
		{"01/29/99", "", domain.NewDate(2099, time.January, 29)},
		{"15/01/2025", "", domain.NewDate(2025, time.January, 15)},
		{"2025/01/06", "", domain.NewDate(2025, time.January, 6)},
		{"01-06-2025", "", domain.NewDate(2025, time.January, 6)},
		{"25-12-2024", "", domain.NewDate(2024, time.December, 25)},
		{"01-15-25", "", domain.NewDate(2025, time.January, 15)},
		{" 2025-01-06 ", "", domain.NewDate(2025, time.January, 6)},
		{"06/01/2025", "%d/%m/%Y", domain.NewDate(2025, time.January, 6)},
		{"06.01.2025", "%d.%m.%Y", domain.NewDate(2025, time.January, 6)},
		{"Jan 6, 2025", "%b %-d, %Y", domain.NewDate(2025, time.January, 6)},
		{"2025-01-06", "2006-01-02", domain.NewDate(2025, time.January, 6)},
		{"01/06/24", "%m/%d/%y", domain.NewDate(2024, time.January, 6)},
		{"1/6/2025", "%m/%d/%Y", domain.NewDate(2025, time.January, 6)},
	}

	for _, tt := range tests {
		t.Run(tt.input+" "+tt.hint, func(t *testing.T) {
			got, err := ParseDate(tt.input, tt.hint)
			require.NoError(t, err)
			assert.Equal(t, tt.want.String(), got.String())
		})
	}
}

func TestParseDate_Ambiguous(t *testing.T) {
	// MM/DD wins over DD/MM when both are valid.
	got, err := ParseDate("02/03/2025", "")
	require.NoError(t, err)
	assert.Equal(t, "2025-02-03", got.String())
}

func TestParseDate_Invalid(t *testing.T) {
	tests := []struct {
		input string
		hint  string
	}{
		{"", ""},
		{"yesterday", ""},
		{"13/13/2025", ""},
		{"02/30/2025", ""},
		{"2025-02-30", ""},
		{"01/06/2025", "%Y-%m-%d"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := ParseDate(tt.input, tt.hint)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrFormat))
		})
	}
}

func TestParseDate_Deterministic(t *testing.T) {
	first, err := ParseDate("03/04/2025", "")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := ParseDate("03/04/2025", "")
		require.NoError(t, err)
		assert.True(t, first.Equal(again))
	}
}

func TestLayout(t *testing.T) {
	tests := []struct {
		hint    string
		want    string
		wantErr bool
	}{
		{"%Y-%m-%d", "2006-1-2", false},
		{"%m/%d/%Y", "1/2/2006", false},
		{"%-m/%-d/%y", "1/2/06", false},
		{"%d %B %Y", "2 January 2006", false},
		{"2006-01-02", "2006-01-02", false},
		{"%Q", "", true},
		{"%Y%", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.hint, func(t *testing.T) {
			got, err := Layout(tt.hint)
			if tt.wantErr {
				assert.True(t, errors.Is(err, domain.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
