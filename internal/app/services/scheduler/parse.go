package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// supportedFormats is included in parse errors so callers can surface the
// accepted grammar.
const supportedFormats = `"every N minutes", "every N hours", "daily at HH:MM", "weekly on <day-name>"`

// ParseError reports a schedule expression outside the supported grammar.
type ParseError struct {
	Expression string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unsupported schedule expression %q; supported formats: %s", e.Expression, supportedFormats)
}

var (
	everyPattern  = regexp.MustCompile(`^every\s+(\d+)\s+(minute|minutes|hour|hours)$`)
	dailyPattern  = regexp.MustCompile(`^daily\s+at\s+(\d{1,2}):(\d{2})$`)
	weeklyPattern = regexp.MustCompile(`^weekly\s+on\s+([a-z]+)$`)
)

var dayNames = map[string]struct{}{
	"monday": {}, "tuesday": {}, "wednesday": {}, "thursday": {},
	"friday": {}, "saturday": {}, "sunday": {},
}

// ParseExpression translates a restricted schedule expression into a fixed
// firing interval. The clock time in "daily at HH:MM" and the day in
// "weekly on <day>" are validated but not used for alignment: those
// expressions always yield a flat 24h or 7x24h interval from registration
// time.
func ParseExpression(expr string) (time.Duration, error) {
	normalized := strings.ToLower(strings.TrimSpace(expr))

	if m := everyPattern.FindStringSubmatch(normalized); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return 0, &ParseError{Expression: expr}
		}
		if strings.HasPrefix(m[2], "minute") {
			return time.Duration(n) * time.Minute, nil
		}
		return time.Duration(n) * time.Hour, nil
	}

	if m := dailyPattern.FindStringSubmatch(normalized); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			return 0, &ParseError{Expression: expr}
		}
		return 24 * time.Hour, nil
	}

	if m := weeklyPattern.FindStringSubmatch(normalized); m != nil {
		if _, ok := dayNames[m[1]]; !ok {
			return 0, &ParseError{Expression: expr}
		}
		return 7 * 24 * time.Hour, nil
	}

	return 0, &ParseError{Expression: expr}
}
