package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultFirstYear is the first year INMET publishes an archive for.
const DefaultFirstYear = 2000

// YearRange is the inclusive range of collectable archive years.
type YearRange struct {
	First, Last int
}

// SupportedYears returns [first, year of the last complete month]. In January
// the last complete month is the previous December.
func SupportedYears(first int) YearRange {
	now := Now().UTC()
	lastMonth := now.AddDate(0, 0, -now.Day())
	return YearRange{First: first, Last: lastMonth.Year()}
}

// Contains reports whether year is collectable.
func (r YearRange) Contains(year int) bool {
	return year >= r.First && year <= r.Last
}

// Years lists the range in ascending order. Empty when First > Last.
func (r YearRange) Years() []int {
	if r.First > r.Last {
		return nil
	}
	out := make([]int, 0, r.Last-r.First+1)
	for y := r.First; y <= r.Last; y++ {
		out = append(out, y)
	}
	return out
}

// Check returns ErrUnsupportedYear for years outside the range.
func (r YearRange) Check(year int) error {
	if !r.Contains(year) {
		return fmt.Errorf("year %d outside [%d, %d]: %w", year, r.First, r.Last, ErrUnsupportedYear)
	}
	return nil
}

// ParseYears turns command-line tokens into years, keeping order and
// dropping repeats. Tokens that are not integers are returned as invalid;
// range checking is left to the run so unsupported years are reported per
// year.
func ParseYears(tokens []string) (years []int, invalid []string) {
	seen := make(map[int]bool)
	for _, tok := range tokens {
		t := strings.TrimSpace(tok)
		y, err := strconv.Atoi(t)
		if err != nil {
			invalid = append(invalid, tok)
			continue
		}
		if seen[y] {
			continue
		}
		seen[y] = true
		years = append(years, y)
	}
	return years, invalid
}

// YearStart returns midnight UTC on January 1st of year.
func YearStart(year int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
}
