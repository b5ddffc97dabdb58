package document

import (
	"regexp"
	"strings"
)

// IssuerGeneric is reported when a header was found but no known issuer.
const IssuerGeneric = "Generic"

var issuers = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"Bank of America", regexp.MustCompile(`\bbank of america\b`)},
	{"Chase", regexp.MustCompile(`\bchase\b`)},
	{"Wells Fargo", regexp.MustCompile(`\bwells fargo\b`)},
	{"Citi", regexp.MustCompile(`\bciti(bank)?\b`)},
}

// detectFormat finds the first non date-led line with at least two header
// keywords. It returns the issuer name and the keywords on that line, or
// "" and nil when the text has no header line.
func detectFormat(lines []string, text string) (string, []string) {
	for _, l := range lines {
		if startsWithDate(l) {
			continue
		}
		cols := headerColumns(l)
		if len(cols) >= 2 {
			return detectIssuer(text), cols
		}
	}
	return "", nil
}

func detectIssuer(text string) string {
	lower := strings.ToLower(text)
	for _, is := range issuers {
		if is.pattern.MatchString(lower) {
			return is.name
		}
	}
	return IssuerGeneric
}
