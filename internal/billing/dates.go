/**
 * @description
 * Calendar helpers. Billing works on civil dates, held as midnight UTC.
 */
package billing

import "time"

// Date truncates t to its civil date in loc.
func Date(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// Civil keeps the calendar fields of t as written, ignoring its location.
func Civil(t time.Time) time.Time {
	return CivilDate(t.Year(), t.Month(), t.Day())
}

// CivilDate builds a date value.
func CivilDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days in the month of t.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonthsClamped moves t by n calendar months, clamping the day to the target month's end.
// Jan 31 + 1 month is Feb 28 (or 29), never Mar 3.
func AddMonthsClamped(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	day := t.Day()
	if last := DaysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return CivilDate(first.Year(), first.Month(), day)
}

// DaysBetween returns to - from in whole days, for civil dates.
func DaysBetween(from, to time.Time) int {
	f := CivilDate(from.Year(), from.Month(), from.Day())
	t := CivilDate(to.Year(), to.Month(), to.Day())
	return int(t.Sub(f).Hours() / 24)
}
