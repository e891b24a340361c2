package orchestrator

import (
	"fmt"
	"strings"
)

// ZeroTimecode is the stream timecode before any status update arrives.
const ZeroTimecode = "00:00:00.000"

// FormatTimecode renders ms as HH:MM:SS.mmm. Negative input renders as zero.
func FormatTimecode(ms int64) string {
	if ms <= 0 {
		return ZeroTimecode
	}
	hours := ms / 3_600_000
	minutes := (ms % 3_600_000) / 60_000
	seconds := (ms % 60_000) / 1000
	millis := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}

// ParseTimecode is the inverse of FormatTimecode. The millisecond part is optional.
func ParseTimecode(tc string) (int64, error) {
	var h, m, s, ms int64
	main, frac, hasFrac := strings.Cut(tc, ".")
	if _, err := fmt.Sscanf(main, "%d:%d:%d", &h, &m, &s); err != nil {
		return 0, fmt.Errorf("parse timecode %q: %w", tc, err)
	}
	if hasFrac {
		if len(frac) != 3 {
			return 0, fmt.Errorf("parse timecode %q: millis must be 3 digits", tc)
		}
		if _, err := fmt.Sscanf(frac, "%d", &ms); err != nil {
			return 0, fmt.Errorf("parse timecode %q: %w", tc, err)
		}
	}
	if h < 0 || m < 0 || m > 59 || s < 0 || s > 59 {
		return 0, fmt.Errorf("parse timecode %q: field out of range", tc)
	}
	return h*3_600_000 + m*60_000 + s*1000 + ms, nil
}
