// Package jalali converts Solar Hijri calendar dates, as typed into the task
// sheet, into Gregorian civil dates used for deadline arithmetic.
package jalali

import (
	"strconv"
	"strings"
	"time"
)

// 1403/01/01 (Nowruz) fell on 2024-03-20.
var (
	anchorJalali    = dayNumber(1403, 1, 1)
	anchorGregorian = time.Date(2024, time.March, 20, 0, 0, 0, 0, time.UTC)
)

// ToGregorian parses a Jalali date such as "1404/07/23" or "۱۴۰۴/۰۷/۲۳" and
// returns midnight UTC of the equivalent Gregorian day. Bidi marks and
// Persian or Arabic-Indic digits are tolerated. ok is false on any
// unparsable or out-of-range input.
func ToGregorian(s string) (t time.Time, ok bool) {
	y, m, d, ok := parse(Normalize(s))
	if !ok {
		return time.Time{}, false
	}
	return anchorGregorian.AddDate(0, 0, dayNumber(y, m, d)-anchorJalali), true
}

// FromGregorian returns the Jalali year, month and day of t's civil date.
func FromGregorian(t time.Time) (year, month, day int) {
	civil := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	n := anchorJalali + int(civil.Sub(anchorGregorian).Hours()/24)

	year = 1403 + (n-anchorJalali)/366
	for dayNumber(year+1, 1, 1) <= n {
		year++
	}
	for dayNumber(year, 1, 1) > n {
		year--
	}
	doy := n - dayNumber(year, 1, 1)
	if doy < 186 {
		return year, doy/31 + 1, doy%31 + 1
	}
	doy -= 186
	return year, doy/30 + 7, doy%30 + 1
}

// Format renders t's civil date as a zero-padded Jalali "YYYY/MM/DD".
func Format(t time.Time) string {
	y, m, d := FromGregorian(t)
	return strconv.Itoa(y) + "/" + pad2(m) + "/" + pad2(d)
}

// IsLeap reports whether Esfand of the given Jalali year has 30 days.
func IsLeap(year int) bool {
	return dayNumber(year+1, 1, 1)-dayNumber(year, 1, 1) == 366
}

// DaysBetween returns the signed number of civil days from `from` to `to`,
// ignoring time of day. Each argument is read in its own location.
func DaysBetween(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// Normalize drops invisible formatting marks and folds non-ASCII digits.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case isFormatMark(r):
			continue
		case r >= '\u06f0' && r <= '\u06f9':
			b.WriteRune('0' + (r - '\u06f0'))
		case r >= '\u0660' && r <= '\u0669':
			b.WriteRune('0' + (r - '\u0660'))
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func isFormatMark(r rune) bool {
	switch {
	case r == '\u200c', r == '\u200e', r == '\u200f', r == '\u061c', r == '\ufeff':
		return true
	case r >= '\u202a' && r <= '\u202e':
		return true
	case r >= '\u2066' && r <= '\u2069':
		return true
	}
	return false
}

func parse(s string) (y, m, d int, ok bool) {
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		s = s[:i]
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '-' || r == '.' })
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, 0, 0, false
		}
		nums[i] = n
	}
	y, m, d = nums[0], nums[1], nums[2]
	if y < 1000 || y > 9999 || m < 1 || m > 12 || d < 1 || d > monthLength(y, m) {
		return 0, 0, 0, false
	}
	return y, m, d, true
}

func monthLength(y, m int) int {
	switch {
	case m <= 6:
		return 31
	case m <= 11:
		return 30
	case IsLeap(y):
		return 30
	default:
		return 29
	}
}

// dayNumber counts days on a continuous scale using the arithmetic
// 33-year cycle (8 leap years per cycle). Only differences are meaningful.
func dayNumber(y, m, d int) int {
	yy := y + 1595
	n := 365*yy + (yy/33)*8 + ((yy%33)+3)/4 + d
	if m < 7 {
		n += (m - 1) * 31
	} else {
		n += (m-7)*30 + 186
	}
	return n
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
