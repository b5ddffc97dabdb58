package document

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
	"github.com/rumor-ml/commons.systems/tally/internal/normalize"
)

const (
	maxAmountsPerLine = 3
	minDescriptionLen = 2

	// maxLineAmount drops account numbers and other long digit runs that
	// happen to carry two decimals.
	maxLineAmount = 1_000_000_000
)

var (
	amountPattern      = regexp.MustCompile(`\$?[-(]?[\d,]{1,12}\.\d{2}[)\-]?(?:CR)?`)
	amountStartPattern = regexp.MustCompile(`\$?[-(]?[\d,]{1,12}\.\d{2}`)
)

// line is a transaction extracted from a single line of text.
type line struct {
	date           domain.Date
	description    string
	amount         int64
	runningBalance *int64
	raw            string
	category       string
}

// parseLeadingDate parses the date at the start of text and returns the
// byte offset just past it.
func parseLeadingDate(text string) (domain.Date, int, bool) {
	for i, re := range datePatterns {
		m := re.FindStringSubmatchIndex(text)
		if m == nil {
			continue
		}
		a, _ := strconv.Atoi(text[m[2]:m[3]])
		b, _ := strconv.Atoi(text[m[4]:m[5]])
		c, _ := strconv.Atoi(text[m[6]:m[7]])

		var year, month, day int
		if i == 1 {
			year, month, day = a, b, c
		} else {
			month, day, year = a, b, c
			switch yearDigits := m[7] - m[6]; {
			case yearDigits == 2:
				year += 2000
			case yearDigits == 3:
				return domain.Date{}, m[1], false
			}
		}

		d, ok := validDate(year, month, day)
		return d, m[1], ok
	}
	return domain.Date{}, 0, false
}

func validDate(year, month, day int) (domain.Date, bool) {
	if month < 1 || month > 12 || day < 1 {
		return domain.Date{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return domain.Date{}, false
	}
	return domain.DateOf(t), true
}

// lineAmounts returns up to the last three amounts in text, in line order,
// using the card-statement sign convention.
func lineAmounts(text string) []int64 {
	matches := amountPattern.FindAllString(text, -1)
	if len(matches) > maxAmountsPerLine {
		matches = matches[len(matches)-maxAmountsPerLine:]
	}

	amounts := make([]int64, 0, len(matches))
	for _, m := range matches {
		amt, err := normalize.ParseAmountWith(m, normalize.ChargesNegative)
		if err != nil {
			continue
		}
		if amt > maxLineAmount || amt < -maxLineAmount {
			continue
		}
		amounts = append(amounts, amt)
	}
	return amounts
}

// parseLine extracts a transaction from a date-led line.
func parseLine(text, category string) (line, bool) {
	date, end, ok := parseLeadingDate(text)
	if !ok {
		return line{}, false
	}
	rest := text[end:]

	amounts := lineAmounts(rest)
	if len(amounts) == 0 {
		return line{}, false
	}

	description := rest
	if loc := amountStartPattern.FindStringIndex(rest); loc != nil {
		description = rest[:loc[0]]
	}
	description = strings.TrimSpace(description)
	if len([]rune(description)) < minDescriptionLen {
		return line{}, false
	}

	l := line{
		date:        date,
		description: description,
		amount:      amounts[0],
		raw:         text,
		category:    category,
	}
	if len(amounts) >= 2 {
		l.runningBalance = &amounts[len(amounts)-1]
	}
	return l, true
}

func (l line) toParsed() domain.ParsedTransaction {
	raw := domain.Fields{{Name: "line", Value: l.raw}}
	if l.runningBalance != nil {
		raw = append(raw, domain.Field{Name: "running_balance", Value: normalize.FormatAmount(*l.runningBalance)})
	}
	return domain.ParsedTransaction{
		Date:         l.date,
		Amount:       l.amount,
		Payee:        l.description,
		Memo:         l.description,
		CategoryHint: l.category,
		RawFields:    raw,
	}
}
