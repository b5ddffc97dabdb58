// Package recurring detects periodic payment series in ledger history.
package recurring

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

const (
	// WindowDays is how far back detection looks.
	WindowDays = 365
	// MinOccurrences is the smallest group that can form a series.
	MinOccurrences = 3
	// AmountBucket groups amounts into $5 buckets (minor units).
	AmountBucket = 500
	// minPayeeLen discards payees that normalize to almost nothing.
	minPayeeLen = 3
)

// Applied in order. ISO dates go first so M-D-YY cannot eat their tail;
// all dates go before the generic digit run.
var payeeNoise = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
	regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{2,4}`),
	regexp.MustCompile(`\d{1,2}-\d{1,2}-\d{2,4}`),
	regexp.MustCompile(`\d{6,}`),
	regexp.MustCompile(`#\d+`),
	regexp.MustCompile(`\*\d+`),
}

type bucket struct {
	lo, hi float64
	freq   domain.Frequency
}

var buckets = []bucket{
	{5, 9, domain.FrequencyWeekly},
	{12, 17, domain.FrequencyBiweekly},
	{25, 35, domain.FrequencyMonthly},
	{85, 100, domain.FrequencyQuarterly},
	{350, 380, domain.FrequencyYearly},
}

// Entry is one ledger transaction considered for detection.
type Entry struct {
	ID          string
	AccountID   string
	AccountName string
	Date        domain.Date
	Amount      int64
	Payee       string
	CategoryID  *string
}

// NormalizePayee lowercases payee and strips dates, reference numbers, and
// masked card digits, then collapses whitespace.
//
//	"NETFLIX.COM 01/15/25 #4471" -> "netflix.com"
func NormalizePayee(payee string) string {
	s := strings.ToLower(payee)
	for _, re := range payeeNoise {
		s = re.ReplaceAllString(s, "")
	}
	return strings.Join(strings.Fields(s), " ")
}

// Classify buckets the mean positive gap between consecutive dates. dates
// must be sorted. Fewer than MinOccurrences dates, or no positive gap, never
// classify.
func Classify(dates []domain.Date) (domain.Frequency, bool) {
	if len(dates) < MinOccurrences {
		return "", false
	}

	var sum, n int
	for i := 1; i < len(dates); i++ {
		if gap := dates[i].DaysSince(dates[i-1]); gap > 0 {
			sum += gap
			n++
		}
	}
	if n == 0 {
		return "", false
	}

	mean := float64(sum) / float64(n)
	for _, b := range buckets {
		if mean >= b.lo && mean <= b.hi {
			return b.freq, true
		}
	}
	return "", false
}

type groupKey struct {
	payee   string
	account string
	bucket  int64
}

// Detect groups entries by normalized payee, account, and $5 amount bucket
// and returns the groups that recur at a known frequency, ordered by next
// expected date, then payee, then account.
func Detect(entries []Entry) []domain.RecurringSeries {
	groups := make(map[groupKey][]Entry)
	var order []groupKey
	for _, e := range entries {
		normalized := NormalizePayee(e.Payee)
		if len(normalized) < minPayeeLen {
			continue
		}
		key := groupKey{payee: normalized, account: e.AccountID, bucket: abs(e.Amount) / AmountBucket * AmountBucket}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], e)
	}

	series := make([]domain.RecurringSeries, 0)
	for _, key := range order {
		members := groups[key]
		if len(members) < MinOccurrences {
			continue
		}
		sort.SliceStable(members, func(i, j int) bool { return members[i].Date.Before(members[j].Date) })

		dates := make([]domain.Date, len(members))
		for i, m := range members {
			dates[i] = m.Date
		}
		freq, ok := Classify(dates)
		if !ok {
			continue
		}
		series = append(series, build(key.payee, freq, members))
	}

	sort.SliceStable(series, func(i, j int) bool {
		a, b := series[i], series[j]
		if !a.NextExpectedDate.Equal(b.NextExpectedDate) {
			return a.NextExpectedDate.Before(b.NextExpectedDate)
		}
		if a.Payee != b.Payee {
			return a.Payee < b.Payee
		}
		return a.AccountID < b.AccountID
	})
	return series
}

func build(normalized string, freq domain.Frequency, members []Entry) domain.RecurringSeries {
	first, last := members[0], members[len(members)-1]

	var total int64
	out := make([]domain.SeriesMember, len(members))
	for i, m := range members {
		total += m.Amount
		out[i] = domain.SeriesMember{ID: m.ID, Date: m.Date, Amount: m.Amount}
	}

	return domain.RecurringSeries{
		Payee:            first.Payee,
		NormalizedPayee:  normalized,
		AccountID:        first.AccountID,
		AccountName:      first.AccountName,
		CategoryID:       first.CategoryID,
		AverageAmount:    total / int64(len(members)), // truncates toward zero
		Frequency:        freq,
		FrequencyDays:    freq.Days(),
		OccurrenceCount:  len(members),
		LastDate:         last.Date,
		NextExpectedDate: last.Date.AddDays(freq.Days()),
		Members:          out,
	}
}

// Describe renders a one-line summary of a series.
func Describe(s domain.RecurringSeries) string {
	return fmt.Sprintf("%s (%s, %d occurrences, next %s)", s.Payee, s.Frequency, s.OccurrenceCount, s.NextExpectedDate)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
