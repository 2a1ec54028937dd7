package domain

import (
	"strings"
	"time"
)

// MonthAlphabet holds the month initials January through December. Season
// tokens are read against it cyclically.
const MonthAlphabet = "jfmamjjasond"

// AnnualToken selects whole calendar years instead of a season window.
const AnnualToken = "annual"

// Bucket identifies which of a season's three month groups a month falls into.
type Bucket int

const (
	BucketBefore Bucket = iota
	BucketTarget
	BucketAfter
)

func (b Bucket) String() string {
	switch b {
	case BucketBefore:
		return "before"
	case BucketTarget:
		return "target"
	default:
		return "after"
	}
}

// SeasonDefinition partitions the calendar into the named season (Target) and
// the months before and after it. For wrap-around windows such as "djf" all
// complementary months fall into After and Before is empty.
type SeasonDefinition struct {
	Token  string
	Before []time.Month
	Target []time.Month
	After  []time.Month

	start int // alphabet index of the first target month
}

// ParseSeason resolves a season token into its month groups.
//
// The token must be "annual" or 1 to 12 consecutive month initials read
// cyclically from "jfmamjjasond", so "ndj" and "djf" are valid. Ambiguous
// initials resolve to their first occurrence: "j" is January and "jja" is
// June-July-August.
func ParseSeason(token string) (SeasonDefinition, error) {
	if token == AnnualToken {
		return SeasonDefinition{Token: AnnualToken, Target: monthRange(0, 12)}, nil
	}
	n := len(token)
	if n == 0 || n > len(MonthAlphabet) || token != strings.ToLower(token) {
		return SeasonDefinition{}, &InvalidSeasonError{Token: token}
	}

	cyclic := MonthAlphabet + MonthAlphabet[:len(MonthAlphabet)-1]
	i := strings.Index(cyclic, token)
	if i < 0 {
		return SeasonDefinition{}, &InvalidSeasonError{Token: token}
	}

	def := SeasonDefinition{Token: token, start: i, Target: monthRange(i, n)}
	end := i + n
	if end <= len(MonthAlphabet) {
		def.Before = monthRange(0, i)
		def.After = monthRange(end, len(MonthAlphabet)-end)
		return def, nil
	}
	// The complement of a wrapped window is one contiguous run.
	wrapEnd := end - len(MonthAlphabet)
	def.After = monthRange(wrapEnd, i-wrapEnd)
	return def, nil
}

// MustParseSeason is ParseSeason for compile-time constant tokens.
func MustParseSeason(token string) SeasonDefinition {
	def, err := ParseSeason(token)
	if err != nil {
		panic(err)
	}
	return def
}

func monthRange(start, n int) []time.Month {
	months := make([]time.Month, 0, n)
	for k := 0; k < n; k++ {
		months = append(months, time.Month((start+k)%12+1))
	}
	return months
}

// IsAnnual reports whether the definition selects calendar years.
func (s SeasonDefinition) IsAnnual() bool {
	return s.Token == AnnualToken
}

// WrapsYear reports whether the target window crosses the Dec/Jan boundary.
func (s SeasonDefinition) WrapsYear() bool {
	return !s.IsAnnual() && s.start+len(s.Target) > len(MonthAlphabet)
}

// Bucket returns the group the month belongs to.
func (s SeasonDefinition) Bucket(m time.Month) Bucket {
	for _, t := range s.Target {
		if t == m {
			return BucketTarget
		}
	}
	for _, b := range s.Before {
		if b == m {
			return BucketBefore
		}
	}
	return BucketAfter
}

// SeasonYear labels the day with the year its season belongs to. Days in the
// December side of a wrapped target window belong to the following year, so
// December 1990 through February 1991 of "djf" is season year 1991. All other
// days keep their calendar year.
func (s SeasonDefinition) SeasonYear(t time.Time) int {
	year := t.Year()
	if !s.WrapsYear() {
		return year
	}
	if s.Bucket(t.Month()) == BucketTarget && int(t.Month())-1 >= s.start {
		return year + 1
	}
	return year
}

// Label returns the month initials of a group, e.g. "jfm" for Before of "amj".
func (s SeasonDefinition) Label(b Bucket) string {
	var months []time.Month
	switch b {
	case BucketBefore:
		months = s.Before
	case BucketTarget:
		months = s.Target
	default:
		months = s.After
	}
	var sb strings.Builder
	for _, m := range months {
		sb.WriteByte(MonthAlphabet[m-1])
	}
	return sb.String()
}
