package interaction

import (
	"fmt"
	"time"
)

// RelativeTime はtからnowまでの経過時間を「3h」「2d」「1w」のような短い文字列で返す。
// 年、月、週、日、時間、分の順に評価し、最初に1以上となった単位を使う。
// 年と月は暦に基づいて数える。1分未満または未来の時刻は"just now"となる。
func RelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	if !t.Before(now) {
		return "just now"
	}

	months := calendarMonthsBetween(t, now)
	if years := months / 12; years > 0 {
		return fmt.Sprintf("%dy", years)
	}
	if months > 0 {
		return fmt.Sprintf("%dmo", months)
	}

	elapsed := now.Sub(t)
	days := int(elapsed / (24 * time.Hour))
	if weeks := days / 7; weeks > 0 {
		return fmt.Sprintf("%dw", weeks)
	}
	if days > 0 {
		return fmt.Sprintf("%dd", days)
	}
	if hours := int(elapsed / time.Hour); hours > 0 {
		return fmt.Sprintf("%dh", hours)
	}
	if minutes := int(elapsed / time.Minute); minutes > 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return "just now"
}

// calendarMonthsBetween はfromからtoまでに経過した暦上の月数を返す。from <= to を前提とする。
func calendarMonthsBetween(from, to time.Time) int {
	to = to.In(from.Location())
	months := (to.Year()-from.Year())*12 + int(to.Month()-from.Month())
	if months > 0 && from.AddDate(0, months, 0).After(to) {
		months--
	}
	return months
}
