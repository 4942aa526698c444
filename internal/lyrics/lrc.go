// Package lyrics renders transcription output as LRC karaoke files.
package lyrics

import (
	"bufio"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Placeholder is written when no transcription backend produced lyrics.
const Placeholder = "[ar:Unknown]\n[ti:Generated]\n[00:00.00] Karaoke lyrics will appear here..."

// Segment is one time-aligned piece of transcribed text.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Timestamp formats seconds as mm:ss.xx.
func Timestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	cs := int64(math.Round(seconds * 100))
	return fmt.Sprintf("%02d:%02d.%02d", cs/6000, (cs%6000)/100, cs%100)
}

// FromSegments renders one LRC line per non-empty segment.
func FromSegments(segments []Segment) string {
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", Timestamp(seg.Start), text))
	}
	return strings.Join(lines, "\n")
}

// FromPlainText puts the whole text on a single line at 00:00.00.
func FromPlainText(text string) string {
	flat := strings.Join(strings.Fields(text), " ")
	if flat == "" {
		return ""
	}
	return "[00:00.00] " + flat
}

var srtTime = regexp.MustCompile(`(\d+):(\d+):(\d+)[,.](\d+)`)

// FromSRT converts SubRip cues to LRC, using each cue's start time.
func FromSRT(srt string) string {
	var (
		lines   []string
		start   = -1.0
		text    []string
		scanner = bufio.NewScanner(strings.NewReader(srt))
	)
	flush := func() {
		if start >= 0 && len(text) > 0 {
			lines = append(lines, fmt.Sprintf("[%s] %s", Timestamp(start), strings.Join(text, " ")))
		}
		start, text = -1, nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			flush()
		case strings.Contains(line, "-->"):
			if m := srtTime.FindStringSubmatch(line); m != nil {
				start = srtSeconds(m)
			}
		case start < 0:
			// cue index
		default:
			text = append(text, line)
		}
	}
	flush()
	return strings.Join(lines, "\n")
}

func srtSeconds(m []string) float64 {
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	s, _ := strconv.Atoi(m[3])
	ms, _ := strconv.Atoi(m[4])
	return float64(h*3600+min*60+s) + float64(ms)/1000
}

var lrcLine = regexp.MustCompile(`^\[\d{2}:\d{2}\.\d{2}\]`)

// Normalize accepts LRC, SRT or plain text and returns LRC. An empty
// result means there was nothing usable.
func Normalize(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	for _, line := range strings.Split(trimmed, "\n") {
		if lrcLine.MatchString(strings.TrimSpace(line)) {
			return trimmed
		}
	}
	if strings.Contains(trimmed, "-->") {
		if lrc := FromSRT(trimmed); lrc != "" {
			return lrc
		}
	}
	return FromPlainText(trimmed)
}
