package timetool

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/width"
)

// Layout is the format of every date the tools return.
const Layout = "2006-01-02 15:04:05"

// defaultHour is used when the input names a day but no time of day.
const defaultHour = 12

// ErrUnparseable is returned when the input names neither a date nor a time of day.
var ErrUnparseable = errors.New("cannot parse date, give a specific day such as 明天, 下周一下午3点, tomorrow 9am or 2024-01-20")

var (
	reISODate   = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
	reCNDate    = regexp.MustCompile(`(?:(\d{4})年)?(\d{1,2})月(\d{1,2})[日号號]`)
	reAfterTmrw = regexp.MustCompile(`(大*)后天`)
	reBeforeYst = regexp.MustCompile(`(大*)前天`)
	reInDays    = regexp.MustCompile(`\bin\s+(\d+)\s+days?\b|(\d+)\s*天[后後以]`)
	reDaysAgo   = regexp.MustCompile(`\b(\d+)\s+days?\s+ago\b|(\d+)\s*天前`)
	reWeekCN    = regexp.MustCompile(`(本|这|這|下|上)?(?:周|週|星期|礼拜|禮拜)([一二三四五六日天])`)
	reWeekEN    = regexp.MustCompile(`\b(?:(next|last|this)\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	reClockCN   = regexp.MustCompile(`(凌晨|早上|上午|中午|下午|晚上)?(\d{1,2})[点點时時](?:(\d{1,2})分|(半))?`)
	reClockEN   = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	reClock     = regexp.MustCompile(`\b(\d{1,2}):(\d{2})(?::(\d{2}))?\b`)
)

var cnWeekdays = map[string]int{"一": 0, "二": 1, "三": 2, "四": 3, "五": 4, "六": 5, "日": 6, "天": 6}

var enWeekdays = map[string]int{
	"monday": 0, "tuesday": 1, "wednesday": 2, "thursday": 3, "friday": 4, "saturday": 5, "sunday": 6,
}

// ParseRelativeDate resolves a relative or absolute date expression in Chinese or English
// against now. Weeks start on Monday: 周五 and "friday" name the Friday of the current week,
// 下周五 and "next friday" the one after it. Without a time of day the result is at noon.
func ParseRelativeDate(input string, now time.Time) (time.Time, error) {
	text := strings.ToLower(strings.TrimSpace(width.Narrow.String(input)))
	if text == "" {
		return time.Time{}, ErrUnparseable
	}

	day, dayFound, err := resolveDay(text, now)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, second, clockFound, err := resolveClock(text)
	if err != nil {
		return time.Time{}, err
	}
	if !dayFound && !clockFound {
		return time.Time{}, ErrUnparseable
	}
	if !clockFound {
		hour, minute, second = defaultHour, 0, 0
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, second, 0, now.Location()), nil
}

// resolveDay returns the calendar day named by text, or now's day when it names none.
func resolveDay(text string, now time.Time) (time.Time, bool, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if m := reISODate.FindStringSubmatch(text); m != nil {
		d, err := calendarDate(m[1], m[2], m[3], now)
		return d, true, err
	}
	if m := reCNDate.FindStringSubmatch(text); m != nil {
		d, err := calendarDate(m[1], m[2], m[3], now)
		return d, true, err
	}
	if m := reAfterTmrw.FindStringSubmatch(text); m != nil {
		return today.AddDate(0, 0, 2+utf8.RuneCountInString(m[1])), true, nil
	}
	if m := reBeforeYst.FindStringSubmatch(text); m != nil {
		return today.AddDate(0, 0, -2-utf8.RuneCountInString(m[1])), true, nil
	}
	if m := reInDays.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1] + m[2])
		return today.AddDate(0, 0, n), true, nil
	}
	if m := reDaysAgo.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1] + m[2])
		return today.AddDate(0, 0, -n), true, nil
	}
	switch {
	case strings.Contains(text, "day after tomorrow"):
		return today.AddDate(0, 0, 2), true, nil
	case strings.Contains(text, "day before yesterday"):
		return today.AddDate(0, 0, -2), true, nil
	case strings.Contains(text, "明天"), strings.Contains(text, "明日"), strings.Contains(text, "tomorrow"):
		return today.AddDate(0, 0, 1), true, nil
	case strings.Contains(text, "昨天"), strings.Contains(text, "昨日"), strings.Contains(text, "yesterday"):
		return today.AddDate(0, 0, -1), true, nil
	case strings.Contains(text, "今天"), strings.Contains(text, "今日"), strings.Contains(text, "today"):
		return today, true, nil
	}
	if m := reWeekCN.FindStringSubmatch(text); m != nil {
		weeks := 0
		switch m[1] {
		case "下":
			weeks = 1
		case "上":
			weeks = -1
		}
		return weekday(today, cnWeekdays[m[2]], weeks), true, nil
	}
	if m := reWeekEN.FindStringSubmatch(text); m != nil {
		weeks := 0
		switch m[1] {
		case "next":
			weeks = 1
		case "last":
			weeks = -1
		}
		return weekday(today, enWeekdays[m[2]], weeks), true, nil
	}
	return today, false, nil
}

// weekday returns day idx (0 = Monday) of the week weeks away from today's.
func weekday(today time.Time, idx, weeks int) time.Time {
	monday := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
	return monday.AddDate(0, 0, idx+7*weeks)
}

func calendarDate(year, month, day string, now time.Time) (time.Time, error) {
	y := now.Year()
	if year != "" {
		y, _ = strconv.Atoi(year)
	}
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, now.Location())
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, fmt.Errorf("no such date: %04d-%02d-%02d", y, m, d)
	}
	return t, nil
}

// resolveClock returns the time of day named by text, if any.
func resolveClock(text string) (hour, minute, second int, found bool, err error) {
	switch m := reClockCN.FindStringSubmatch(text); {
	case m != nil:
		hour, _ = strconv.Atoi(m[2])
		if m[3] != "" {
			minute, _ = strconv.Atoi(m[3])
		}
		if m[4] != "" {
			minute = 30
		}
		switch m[1] {
		case "下午", "晚上":
			if hour < 12 {
				hour += 12
			}
		case "中午":
			if hour < 6 {
				hour += 12
			}
		case "凌晨":
			if hour == 12 {
				hour = 0
			}
		}
	default:
		if m := reClockEN.FindStringSubmatch(text); m != nil {
			hour, _ = strconv.Atoi(m[1])
			if m[2] != "" {
				minute, _ = strconv.Atoi(m[2])
			}
			if hour < 1 || hour > 12 {
				return 0, 0, 0, false, fmt.Errorf("invalid 12-hour clock time %q", m[0])
			}
			switch {
			case m[3] == "pm" && hour < 12:
				hour += 12
			case m[3] == "am" && hour == 12:
				hour = 0
			}
		} else if m := reClock.FindStringSubmatch(text); m != nil {
			hour, _ = strconv.Atoi(m[1])
			minute, _ = strconv.Atoi(m[2])
			if m[3] != "" {
				second, _ = strconv.Atoi(m[3])
			}
		} else {
			return 0, 0, 0, false, nil
		}
	}
	if hour > 23 || minute > 59 || second > 59 {
		return 0, 0, 0, false, fmt.Errorf("invalid time of day %02d:%02d:%02d", hour, minute, second)
	}
	return hour, minute, second, true, nil
}
