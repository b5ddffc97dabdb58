package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

// dateLayouts is the fallback order used when no format hint is given.
// Month and day accept one or two digits. The trailing MM-DD-YY entry only
// adds coverage; anything matched by an earlier layout still matches it first.
var dateLayouts = []string{
	"2006-01-02", // YYYY-MM-DD
	"1/2/2006",   // MM/DD/YYYY
	"1/2/06",     // MM/DD/YY
	"2/1/2006",   // DD/MM/YYYY
	"2006/1/2",   // YYYY/MM/DD
	"1-2-2006",   // MM-DD-YYYY
	"2-1-2006",   // DD-MM-YYYY
	"1-2-06",     // MM-DD-YY
}

var strftimeVerbs = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "1",
	'd': "2",
	'e': "_2",
	'b': "Jan",
	'h': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'H': "15",
	'M': "04",
	'S': "05",
	'%': "%",
}

// ParseDate parses text into a calendar date. hint may be empty, a strftime
// pattern such as "%m/%d/%Y", or a Go layout. Two-digit years are read as 20YY.
func ParseDate(text, hint string) (domain.Date, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return domain.Date{}, fmt.Errorf("%w: empty date", domain.ErrFormat)
	}

	if hint != "" {
		layout, err := Layout(hint)
		if err != nil {
			return domain.Date{}, err
		}
		if d, ok := parseWithLayout(s, layout); ok {
			return d, nil
		}
		return domain.Date{}, fmt.Errorf("%w: date %q does not match format %q", domain.ErrFormat, text, hint)
	}

	for _, layout := range dateLayouts {
		if d, ok := parseWithLayout(s, layout); ok {
			return d, nil
		}
	}
	return domain.Date{}, fmt.Errorf("%w: unrecognized date %q", domain.ErrFormat, text)
}

// Layout converts a strftime pattern into a Go time layout. Strings without
// a '%' are returned unchanged. %m and %d accept one or two digits.
func Layout(hint string) (string, error) {
	if !strings.Contains(hint, "%") {
		return hint, nil
	}

	var b strings.Builder
	for i := 0; i < len(hint); i++ {
		c := hint[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(hint) {
			return "", fmt.Errorf("%w: date format %q ends with '%%'", domain.ErrValidation, hint)
		}
		i++
		// %-m / %-d: unpadded month and day
		if hint[i] == '-' && i+1 < len(hint) {
			i++
			switch hint[i] {
			case 'm':
				b.WriteString("1")
				continue
			case 'd':
				b.WriteString("2")
				continue
			}
			return "", fmt.Errorf("%w: unsupported date verb %%-%c in %q", domain.ErrValidation, hint[i], hint)
		}
		verb, ok := strftimeVerbs[hint[i]]
		if !ok {
			return "", fmt.Errorf("%w: unsupported date verb %%%c in %q", domain.ErrValidation, hint[i], hint)
		}
		b.WriteString(verb)
	}
	return b.String(), nil
}

func parseWithLayout(s, layout string) (domain.Date, bool) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return domain.Date{}, false
	}
	year := t.Year()
	if twoDigitYear(layout) && year < 2000 {
		year += 100
	}
	return domain.NewDate(year, t.Month(), t.Day()), true
}

func twoDigitYear(layout string) bool {
	return !strings.Contains(layout, "2006") && strings.Contains(layout, "06")
}
