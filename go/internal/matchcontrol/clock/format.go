package clock

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatClock renders seconds as MM:SS. Negative input renders as 00:00 and
// minutes are not wrapped at 60.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// ParseClock parses an operator-entered MM:SS value into seconds.
func ParseClock(value string) (int, bool) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, false
	}
	minutes, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, false
	}
	if minutes < 0 || seconds < 0 || seconds >= 60 {
		return 0, false
	}
	return minutes*60 + seconds, true
}
