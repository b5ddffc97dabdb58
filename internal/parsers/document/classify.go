package document

import (
	"regexp"
	"strings"
	"unicode"
)

// LineKind is the classification of one line of extracted text.
type LineKind int

const (
	Unclassified LineKind = iota
	SectionStart
	Header
	CategoryHeader
	Skip
	Transaction
)

var lineKindNames = map[LineKind]string{
	Unclassified:   "unclassified",
	SectionStart:   "section-start",
	Header:         "header",
	CategoryHeader: "category-header",
	Skip:           "skip",
	Transaction:    "transaction",
}

func (k LineKind) String() string {
	if name, ok := lineKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Classification is the result of classifying a line. Category is set for
// CategoryHeader lines.
type Classification struct {
	Kind     LineKind
	Category string
}

// classifier inspects a normalized line. gated is true during the first
// pass, when section and header lines change parser state.
type classifier func(line string, gated bool) (Classification, bool)

// classifiers run in order; the first hit wins.
var classifiers = []classifier{
	classifySectionStart,
	classifyHeader,
	classifyCategoryHeader,
	classifySkip,
	classifyTransaction,
}

// Classify assigns a LineKind to a normalized line.
func Classify(line string, gated bool) Classification {
	for _, c := range classifiers {
		if result, ok := c(line, gated); ok {
			return result
		}
	}
	return Classification{Kind: Unclassified}
}

var (
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2,4})`),
		regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`),
		regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{2,4})`),
	}

	headerKeywords = []string{
		"date", "description", "amount", "balance", "debit",
		"credit", "withdrawal", "deposit", "transaction", "posted",
	}
	headerPatterns = wordStartPatterns(headerKeywords)

	sectionPattern = regexp.MustCompile(`\b(transaction|activity|details|account activity)`)

	summaryPattern = regexp.MustCompile(`\b(total|summary|subtotal|balance forward|previous balance|` +
		`ending balance|beginning balance|opening balance|closing balance|average|minimum|maximum|` +
		`page|continued|spending|income|cash flow|overview|breakdown)|\bnet\b`)

	categoryKeywords = []string{
		"groceries", "dining", "restaurants", "shopping", "entertainment",
		"utilities", "bills", "transportation", "gas", "travel", "healthcare",
		"medical", "insurance", "education", "subscriptions", "personal",
		"home", "automotive", "clothing", "electronics", "gifts", "donations",
		"fees", "taxes", "income", "salary", "transfer", "payment",
	}

	monthPattern = regexp.MustCompile(`\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|` +
		`july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\b`)
	monthAbbrevs = []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}
	monthNames   = []string{"january", "february", "march", "april", "may", "june",
		"july", "august", "september", "october", "november", "december"}

	bareDollar       = regexp.MustCompile(`^\$[\d,]+\.\d{2}$`)
	chartLabel       = regexp.MustCompile(`^\d+\.?\d*\s+[A-Z]{3}$`)
	categoryTotal    = regexp.MustCompile(`^[A-Za-z][A-Za-z\s/]+\$[\d,]+\.\d{2}$`)
	periodTotalStart = []string{"quarterly", "annual"}
)

func wordStartPatterns(words []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		out[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(w))
	}
	return out
}

func classifySectionStart(line string, gated bool) (Classification, bool) {
	if !gated || startsWithDate(line) {
		return Classification{}, false
	}
	if sectionPattern.MatchString(strings.ToLower(line)) {
		return Classification{Kind: SectionStart}, true
	}
	return Classification{}, false
}

func classifyHeader(line string, gated bool) (Classification, bool) {
	if !gated || startsWithDate(line) {
		return Classification{}, false
	}
	if len(headerColumns(line)) >= 2 {
		return Classification{Kind: Header}, true
	}
	return Classification{}, false
}

func classifyCategoryHeader(line string, _ bool) (Classification, bool) {
	if strings.IndexFunc(line, unicode.IsDigit) >= 0 {
		return Classification{}, false
	}
	if name, ok := categoryName(line); ok {
		return Classification{Kind: CategoryHeader, Category: name}, true
	}
	return Classification{}, false
}

func classifySkip(line string, _ bool) (Classification, bool) {
	if shouldSkip(line) {
		return Classification{Kind: Skip}, true
	}
	return Classification{}, false
}

func classifyTransaction(line string, _ bool) (Classification, bool) {
	if startsWithDate(line) {
		return Classification{Kind: Transaction}, true
	}
	return Classification{}, false
}

// headerColumns returns the header keywords found at word starts in line,
// in keyword order.
func headerColumns(line string) []string {
	lower := strings.ToLower(line)
	var cols []string
	for i, re := range headerPatterns {
		if re.MatchString(lower) {
			cols = append(cols, headerKeywords[i])
		}
	}
	return cols
}

// categoryName reports whether line is a category label such as "Dining:"
// and returns it with its original casing.
func categoryName(line string) (string, bool) {
	if startsWithDate(line) {
		return "", false
	}
	original := strings.TrimSuffix(strings.TrimSpace(line), ":")
	lower := strings.ToLower(original)
	for _, kw := range categoryKeywords {
		if lower == kw || strings.HasPrefix(lower, kw+" ") {
			return original, true
		}
	}
	return "", false
}

func shouldSkip(line string) bool {
	lower := strings.ToLower(line)

	if summaryPattern.MatchString(lower) {
		return true
	}
	if distinctMonths(lower) >= 2 {
		return true
	}
	if _, ok := categoryName(line); ok {
		return true
	}
	if isChartNoise(line) {
		return true
	}
	if !startsWithDate(line) && categoryTotal.MatchString(line) {
		return true
	}
	for _, prefix := range periodTotalStart {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// distinctMonths counts the different months named in a lowercased line.
func distinctMonths(lower string) int {
	seen := make(map[string]struct{})
	for _, m := range monthPattern.FindAllString(lower, -1) {
		seen[m[:3]] = struct{}{}
	}
	return len(seen)
}

func isChartNoise(line string) bool {
	if len([]rune(line)) < 3 {
		return true
	}
	if bareDollar.MatchString(line) {
		return true
	}

	numericOnly := strings.IndexFunc(line, func(r rune) bool {
		return !(unicode.IsDigit(r) || r == '.' || r == ',' || r == '%' || r == '$' || unicode.IsSpace(r))
	}) < 0
	if numericOnly && (!strings.Contains(line, ".") || len(line) < 4) {
		return true
	}

	if chartLabel.MatchString(line) {
		return true
	}

	lower := strings.ToLower(line)
	for _, m := range monthAbbrevs {
		if lower == m || lower == m+"." {
			return true
		}
	}
	for _, m := range monthNames {
		if lower == m {
			return true
		}
		if strings.HasPrefix(lower, m) && strings.Contains(lower, "$") {
			return true
		}
	}
	return false
}

func startsWithDate(line string) bool {
	for _, re := range datePatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
