// SPDX-License-Identifier: MIT

package transcode

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// ParseProgress consumes ffmpeg -progress key=value lines and reports the
// percentage of totalUs reached. Only out_time_us, out_time_ms and
// out_time are considered; unknown keys are ignored. Updates are emitted on
// each "progress" flush key.
func ParseProgress(r io.Reader, totalUs int64, onProgress func(pct float64)) {
	scanner := bufio.NewScanner(r)
	var currentUs int64

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)

		switch key {
		case "out_time_us", "out_time_ms":
			// Both keys carry microseconds in every ffmpeg release so far.
			if v, err := strconv.ParseInt(val, 10, 64); err == nil && v > currentUs {
				currentUs = v
			}
		case "out_time":
			if v := parseOutTime(val); v > currentUs {
				currentUs = v
			}
		case "progress":
			if onProgress != nil && totalUs > 0 {
				pct := float64(currentUs) / float64(totalUs) * 100
				if pct > 100 {
					pct = 100
				}
				if val == "end" {
					pct = 100
				}
				onProgress(pct)
			}
		}
	}
}

// parseOutTime converts "HH:MM:SS.micro" to microseconds. Malformed values
// yield 0.
func parseOutTime(s string) int64 {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0
	}
	hours, err1 := strconv.ParseInt(parts[0], 10, 64)
	minutes, err2 := strconv.ParseInt(parts[1], 10, 64)
	seconds, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}
	total := float64(hours*3600+minutes*60) + seconds
	if total < 0 {
		return 0
	}
	return int64(total * 1e6)
}
