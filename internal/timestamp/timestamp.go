// Package timestamp maps instants to filesystem-safe, lexicographically sortable backup names.
package timestamp

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// secondsLayout covers everything but the millisecond suffix, which Go layouts cannot express
// after a dash.
const secondsLayout = "2006-01-02_15-04-05"

var stampPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2})-(\d{3})$`)

// Encode renders t in UTC as YYYY-MM-DD_HH-MM-SS-mmm. Sub-millisecond precision is dropped.
func Encode(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s-%03d", t.Format(secondsLayout), t.Nanosecond()/int(time.Millisecond))
}

// Decode parses a string produced by Encode. Any other input yields false.
func Decode(s string) (time.Time, bool) {
	m := stampPattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	base, err := time.ParseInLocation(secondsLayout, m[1], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	ms, err := strconv.Atoi(m[2])
	if err != nil {
		return time.Time{}, false
	}
	return base.Add(time.Duration(ms) * time.Millisecond), true
}

// Truncate drops everything finer than a millisecond, the precision Encode keeps.
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
