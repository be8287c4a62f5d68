/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package personas

import (
	"strconv"
	"strings"
	"time"
)

// minuteSlack tolerates the invoking cron trigger firing a few minutes
// late, which CI schedulers routinely do.
const minuteSlack = 5

// ScheduleMatches reports whether a 5-field cron-like expression matches
// now. Supported per field: "*", a number, and "*/n" steps on the hour
// field. Day-of-month and month are accepted but ignored; day-of-week
// uses cron numbering (0=Sunday). Empty or malformed expressions never
// match.
func ScheduleMatches(expr string, now time.Time) bool {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return false
	}
	minute, hour, _, _, dow := parts[0], parts[1], parts[2], parts[3], parts[4]
	now = now.UTC()

	if minute != "*" {
		m, err := strconv.Atoi(minute)
		if err != nil {
			return false
		}
		if now.Minute() != m && !(now.Minute() >= m && now.Minute() < m+minuteSlack) {
			return false
		}
	}

	if hour != "*" {
		if step, ok := strings.CutPrefix(hour, "*/"); ok {
			n, err := strconv.Atoi(step)
			if err != nil || n <= 0 || now.Hour()%n != 0 {
				return false
			}
		} else {
			h, err := strconv.Atoi(hour)
			if err != nil || now.Hour() != h {
				return false
			}
		}
	}

	if dow != "*" {
		d, err := strconv.Atoi(dow)
		if err != nil || int(now.Weekday()) != d {
			return false
		}
	}

	return true
}
