package rules

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// monthWord is a word in any script, so localized month names match.
const monthWord = `[\p{L}\p{M}\d_]+`

// datePattern matches the date spellings extraction commonly produces.
// Matching is a search, not a full match.
var datePattern = regexp.MustCompile(strings.Join([]string{
	`(?:\d{4}-\d{2}-\d{2})`,                     // 2024-01-15
	`(?:\d{2}/\d{2}/\d{4})`,                     // 01/15/2024 or 15/01/2024
	`(?:\d{2}-\d{2}-\d{4})`,                     // 01-15-2024
	`(?:\d{1,2}\s+` + monthWord + `\s+\d{4})`,   // 15 January 2024, 3 März 2024
	`(?:` + monthWord + `\s+\d{1,2},?\s+\d{4})`, // January 15, 2024
	`(?:\d{2}\.\d{2}\.\d{4})`,                   // 15.01.2024
}, "|"))

var isoDatePrefix = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)

// Tried in order; month-first wins over day-first when both parse.
var dateLayouts = []string{
	"1/2/2006",
	"2/1/2006",
	"1-2-2006",
	"2-1-2006",
	"January 2, 2006",
	"January 2 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 Jan 2006",
	"2.1.2006",
}

// civilDate is a calendar date compared field by field.
type civilDate struct {
	year, month, day int
}

func (d civilDate) before(o civilDate) bool {
	if d.year != o.year {
		return d.year < o.year
	}
	if d.month != o.month {
		return d.month < o.month
	}
	return d.day < o.day
}

// parseDate parses the supported date spellings. An ISO prefix is taken as is.
func parseDate(value string) (civilDate, bool) {
	if m := isoDatePrefix.FindStringSubmatch(value); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		return civilDate{y, mo, d}, true
	}

	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return civilDate{t.Year(), int(t.Month()), t.Day()}, true
		}
	}
	return civilDate{}, false
}
