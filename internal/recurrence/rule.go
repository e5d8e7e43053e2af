// Package recurrence decodes and encodes the subset of the iCalendar
// recurrence-rule grammar used for classes: FREQ, COUNT, BYDAY, BYMONTHDAY
// and BYMONTH. INTERVAL, UNTIL, BYSETPOS and EXDATE are not interpreted.
package recurrence

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Frequency is the repeat period of a rule. None means the class does not
// repeat.
type Frequency string

const (
	None    Frequency = ""
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

// Weekdays lists the BYDAY codes in calendar order.
var Weekdays = []string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}

// Rule is the structured form of a recurrence rule.
//
// Fields that do not apply to Frequency (BYDAY outside WEEKLY, BYMONTH
// outside YEARLY, ...) may be present; consumers ignore them.
type Rule struct {
	Frequency  Frequency `json:"frequency"`
	Count      int       `json:"count"`
	ByDay      []string  `json:"byDay"`
	ByMonthDay []int     `json:"byMonthDay"`
	ByMonth    []int     `json:"byMonth"`
}

// Default returns the rule used when no recurrence data is available:
// no repeat, one occurrence, empty sets.
func Default() Rule {
	return Rule{
		Frequency:  None,
		Count:      1,
		ByDay:      []string{},
		ByMonthDay: []int{},
		ByMonth:    []int{},
	}
}

// Repeats reports whether the rule produces more than the base event.
func (r Rule) Repeats() bool {
	return r.Frequency != None
}

// Equal compares two rules field by field.
func (r Rule) Equal(o Rule) bool {
	return r.Frequency == o.Frequency &&
		r.Count == o.Count &&
		slices.Equal(r.ByDay, o.ByDay) &&
		slices.Equal(r.ByMonthDay, o.ByMonthDay) &&
		slices.Equal(r.ByMonth, o.ByMonth)
}

var (
	freqRe       = regexp.MustCompile(`(?i)FREQ=(DAILY|WEEKLY|MONTHLY|YEARLY)`)
	countRe      = regexp.MustCompile(`(?i)COUNT=(\d+)`)
	byDayRe      = regexp.MustCompile(`(?i)BYDAY=([A-Z,]+)`)
	byMonthDayRe = regexp.MustCompile(`(?i)BYMONTHDAY=([\d,-]+)`)
	byMonthRe    = regexp.MustCompile(`(?i)BYMONTH=([\d,]+)`)
)

// ParseRule decodes a rule string such as "RRULE:FREQ=WEEKLY;COUNT=5;BYDAY=MO,FR".
//
// Each field is extracted on its own; a field that is missing or malformed
// keeps its default. ParseRule never fails: an empty or unreadable string
// yields Default().
func ParseRule(s string) Rule {
	rule := Default()
	if strings.TrimSpace(s) == "" {
		return rule
	}

	if m := freqRe.FindStringSubmatch(s); m != nil {
		rule.Frequency = Frequency(strings.ToUpper(m[1]))
	}
	if m := countRe.FindStringSubmatch(s); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			rule.Count = n
		}
	}
	if m := byDayRe.FindStringSubmatch(s); m != nil {
		rule.ByDay = splitCodes(m[1])
	}
	if m := byMonthDayRe.FindStringSubmatch(s); m != nil {
		rule.ByMonthDay = splitInts(m[1])
	}
	if m := byMonthRe.FindStringSubmatch(s); m != nil {
		rule.ByMonth = splitInts(m[1])
	}
	return rule
}

// ParseRecurrence decodes the first line of a provider recurrence array.
func ParseRecurrence(lines []string) Rule {
	if len(lines) == 0 {
		return Default()
	}
	return ParseRule(lines[0])
}

func splitCodes(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.ToUpper(p))
	}
	return out
}

// splitInts converts a comma list, dropping tokens that are not integers
// (empty tokens and a lone "-" included).
func splitInts(v string) []int {
	out := []int{}
	for _, p := range strings.Split(v, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
