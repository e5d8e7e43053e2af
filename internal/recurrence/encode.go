package recurrence

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// ErrNoRepeat is returned by Option when the rule does not repeat.
var ErrNoRepeat = errors.New("rule does not repeat")

var freqOf = map[Frequency]rrule.Frequency{
	Daily:   rrule.DAILY,
	Weekly:  rrule.WEEKLY,
	Monthly: rrule.MONTHLY,
	Yearly:  rrule.YEARLY,
}

var weekdayOf = map[string]rrule.Weekday{
	"MO": rrule.MO, "TU": rrule.TU, "WE": rrule.WE, "TH": rrule.TH,
	"FR": rrule.FR, "SA": rrule.SA, "SU": rrule.SU,
}

// Relevant returns a copy of r holding only the fields its frequency uses:
// BYDAY for WEEKLY, BYMONTHDAY for MONTHLY and YEARLY, BYMONTH for YEARLY.
func (r Rule) Relevant() Rule {
	out := Default()
	out.Frequency = r.Frequency
	out.Count = r.Count
	switch r.Frequency {
	case Weekly:
		out.ByDay = slices.Clone(r.ByDay)
	case Monthly:
		out.ByMonthDay = slices.Clone(r.ByMonthDay)
	case Yearly:
		out.ByMonthDay = slices.Clone(r.ByMonthDay)
		out.ByMonth = slices.Clone(r.ByMonth)
	}
	if out.ByDay == nil {
		out.ByDay = []string{}
	}
	if out.ByMonthDay == nil {
		out.ByMonthDay = []int{}
	}
	if out.ByMonth == nil {
		out.ByMonth = []int{}
	}
	return out
}

// Option converts r into an rrule-go option anchored at dtstart.
// Unknown BYDAY codes are skipped.
func (r Rule) Option(dtstart time.Time) (rrule.ROption, error) {
	freq, ok := freqOf[r.Frequency]
	if !ok {
		return rrule.ROption{}, ErrNoRepeat
	}

	rel := r.Relevant()
	opt := rrule.ROption{
		Freq:       freq,
		Dtstart:    dtstart,
		Bymonth:    rel.ByMonth,
		Bymonthday: rel.ByMonthDay,
	}
	if rel.Count > 0 {
		opt.Count = rel.Count
	}
	for _, code := range rel.ByDay {
		if wd, ok := weekdayOf[strings.ToUpper(code)]; ok {
			opt.Byweekday = append(opt.Byweekday, wd)
		}
	}
	if len(opt.Bymonth) == 0 {
		opt.Bymonth = nil
	}
	if len(opt.Bymonthday) == 0 {
		opt.Bymonthday = nil
	}
	return opt, nil
}

// Encode renders r as an RRULE value without the "RRULE:" prefix, using
// the same field selection as the backend. A rule that does not repeat
// encodes to "".
func Encode(r Rule) string {
	opt, err := r.Option(time.Time{})
	if err != nil {
		return ""
	}
	return opt.RRuleString()
}

func (r Rule) String() string {
	return Encode(r)
}

// Occurrences lists up to max start times of the series anchored at
// dtstart. A rule that does not repeat yields dtstart alone.
func Occurrences(r Rule, dtstart time.Time, max int) ([]time.Time, error) {
	if max <= 0 {
		return nil, nil
	}
	opt, err := r.Option(dtstart)
	if errors.Is(err, ErrNoRepeat) {
		return []time.Time{dtstart}, nil
	}
	if err != nil {
		return nil, err
	}

	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("build rrule %q: %w", opt.RRuleString(), err)
	}

	out := make([]time.Time, 0, max)
	next := rr.Iterator()
	for len(out) < max {
		t, ok := next()
		if !ok {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

var dayNames = map[string]string{
	"MO": "Monday", "TU": "Tuesday", "WE": "Wednesday", "TH": "Thursday",
	"FR": "Friday", "SA": "Saturday", "SU": "Sunday",
}

// Describe renders a short human summary, e.g.
// "Weekly on Monday, Friday, 5 times (Asia/Ho_Chi_Minh)".
func Describe(r Rule, tz string) string {
	var b strings.Builder
	switch r.Frequency {
	case None:
		b.WriteString("Does not repeat")
	case Daily:
		b.WriteString("Daily")
	case Weekly:
		b.WriteString("Weekly")
		if len(r.ByDay) > 0 {
			names := make([]string, 0, len(r.ByDay))
			for _, code := range r.ByDay {
				if name, ok := dayNames[code]; ok {
					names = append(names, name)
				} else {
					names = append(names, code)
				}
			}
			b.WriteString(" on ")
			b.WriteString(strings.Join(names, ", "))
		}
	case Monthly:
		b.WriteString("Monthly")
		if len(r.ByMonthDay) > 0 {
			b.WriteString(" on day ")
			b.WriteString(joinInts(r.ByMonthDay))
		}
	case Yearly:
		b.WriteString("Yearly")
		if len(r.ByMonth) > 0 {
			months := make([]string, 0, len(r.ByMonth))
			for _, m := range r.ByMonth {
				if m >= 1 && m <= 12 {
					months = append(months, time.Month(m).String())
				} else {
					months = append(months, fmt.Sprint(m))
				}
			}
			b.WriteString(" in ")
			b.WriteString(strings.Join(months, ", "))
		}
		if len(r.ByMonthDay) > 0 {
			b.WriteString(" on day ")
			b.WriteString(joinInts(r.ByMonthDay))
		}
	default:
		b.WriteString(string(r.Frequency))
	}

	if r.Repeats() && r.Count > 1 {
		fmt.Fprintf(&b, ", %d times", r.Count)
	}
	if tz != "" {
		fmt.Fprintf(&b, " (%s)", tz)
	}
	return b.String()
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}

// PayloadFields are the recurrence properties of the outbound class
// payload. The backend assembles the RRULE from them.
type PayloadFields struct {
	Recurrence  string   `json:"recurrence"`
	RepeatCount int      `json:"repeat_count"`
	ByDay       []string `json:"byday"`
	ByMonthDay  []int    `json:"bymonthday"`
	ByMonth     []int    `json:"bymonth"`
}

// Payload passes the structured fields through unchanged.
func (r Rule) Payload() PayloadFields {
	return PayloadFields{
		Recurrence:  string(r.Frequency),
		RepeatCount: r.Count,
		ByDay:       r.ByDay,
		ByMonthDay:  r.ByMonthDay,
		ByMonth:     r.ByMonth,
	}
}

// FromPayload is the inverse of Payload.
func FromPayload(p PayloadFields) Rule {
	r := Rule{
		Frequency:  Frequency(strings.ToUpper(p.Recurrence)),
		Count:      p.RepeatCount,
		ByDay:      p.ByDay,
		ByMonthDay: p.ByMonthDay,
		ByMonth:    p.ByMonth,
	}
	if r.ByDay == nil {
		r.ByDay = []string{}
	}
	if r.ByMonthDay == nil {
		r.ByMonthDay = []int{}
	}
	if r.ByMonth == nil {
		r.ByMonth = []int{}
	}
	return r
}
