package timeline

import (
	"regexp"
	"strconv"
	"strings"
)

// clockRe matches a bare clock time: H:MM, HH:MM, optional :SS, optional
// am/pm marker.
var clockRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?\s*([aApP])?\.?[mM]?\.?$`)

// parseClockOffset parses text as a bare clock time and returns the offset
// from day start in milliseconds.
func parseClockOffset(text string) (int64, bool) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, false
	}

	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds := 0
	if m[3] != "" {
		seconds, _ = strconv.Atoi(m[3])
	}
	if hours > 23 || minutes > 59 || seconds > 59 {
		return 0, false
	}

	switch strings.ToLower(m[4]) {
	case "a":
		if hours > 12 {
			return 0, false
		}
		if hours == 12 {
			hours = 0
		}
	case "p":
		if hours > 12 {
			return 0, false
		}
		if hours != 12 {
			hours += 12
		}
	}

	return int64(hours)*3600_000 + int64(minutes)*60_000 + int64(seconds)*1000, true
}
