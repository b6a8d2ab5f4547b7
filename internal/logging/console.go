package logging

import (
	"io"
	"regexp"
	"sort"
	"strings"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBlue    = "\x1b[34m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiCyan    = "\x1b[36m"
	ansiRed     = "\x1b[31m"
	ansiMagenta = "\x1b[35m"
	ansiGray    = "\x1b[90m"
)

var (
	stringPattern = regexp.MustCompile(`"[^"\n]*"`)
	uuidPattern   = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	tablePattern  = regexp.MustCompile(`\btable=(?:alerts|machines|occurrences|telemetry)\b`)
	numberPattern = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
)

// colorLineWriter wraps console line logs with level-based color.
type colorLineWriter struct {
	dst io.Writer
}

// Write colors one line according to level markers.
// Params: payload is rendered slog line.
// Returns: bytes of payload consumed or write error.
func (w *colorLineWriter) Write(payload []byte) (int, error) {
	line := string(payload)
	levelTone := levelColor(line)
	if levelTone == "" {
		return w.dst.Write(payload)
	}

	rendered := levelTone + highlightLineTokens(line, levelTone) + ansiReset
	n, err := w.dst.Write([]byte(rendered))
	if n > len(payload) {
		n = len(payload)
	}
	return n, err
}

func levelColor(line string) string {
	switch {
	case strings.Contains(line, "level=DEBUG"):
		return ansiGray
	case strings.Contains(line, "level=INFO"):
		return ansiBlue
	case strings.Contains(line, "level=WARN"):
		return ansiYellow
	case strings.Contains(line, "level=ERROR"), strings.Contains(line, "level=PANIC"):
		return ansiRed
	default:
		return ""
	}
}

type colorRegion struct {
	start    int
	end      int
	color    string
	priority int
}

// highlightLineTokens applies token colors and restores the level color after each token.
// Params: rendered line and its level color.
// Returns: line with ANSI token highlights.
func highlightLineTokens(line, baseColor string) string {
	regions := collectColorRegions(line)
	if len(regions) == 0 {
		return line
	}

	var builder strings.Builder
	builder.Grow(len(line) + len(regions)*12)
	cursor := 0
	for _, region := range regions {
		builder.WriteString(line[cursor:region.start])
		builder.WriteString(region.color)
		builder.WriteString(line[region.start:region.end])
		builder.WriteString(ansiReset)
		builder.WriteString(baseColor)
		cursor = region.end
	}
	builder.WriteString(line[cursor:])
	return builder.String()
}

// collectColorRegions returns sorted non-overlapping regions; lower priority wins overlaps.
func collectColorRegions(line string) []colorRegion {
	all := make([]colorRegion, 0, 32)
	all = append(all, findPatternRegions(line, stringPattern, ansiGreen, 1)...)
	all = append(all, findPatternRegions(line, uuidPattern, ansiCyan, 2)...)
	all = append(all, findPatternRegions(line, tablePattern, ansiMagenta, 3)...)
	all = append(all, findPatternRegions(line, numberPattern, ansiYellow, 4)...)

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].start == all[j].start {
			if all[i].priority == all[j].priority {
				return all[i].end > all[j].end
			}
			return all[i].priority < all[j].priority
		}
		return all[i].start < all[j].start
	})

	out := make([]colorRegion, 0, len(all))
	cursor := 0
	for _, region := range all {
		if region.start < cursor || region.start >= region.end {
			continue
		}
		out = append(out, region)
		cursor = region.end
	}
	return out
}

func findPatternRegions(line string, pattern *regexp.Regexp, color string, priority int) []colorRegion {
	indices := pattern.FindAllStringIndex(line, -1)
	out := make([]colorRegion, 0, len(indices))
	for _, pair := range indices {
		out = append(out, colorRegion{start: pair[0], end: pair[1], color: color, priority: priority})
	}
	return out
}
