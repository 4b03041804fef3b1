package subtitles

import (
	"fmt"
	"strings"
	"time"
)

const (
	charBudget = 42
	wordBudget = 9
)

type line struct {
	Start time.Duration
	End   time.Duration
	Words []string
}

// RenderNarrationASS lays narration out as timed subtitle lines spread over dur.
// Each line gets a share of dur proportional to its word count. Width and
// height set the script resolution; zero values fall back to 1920x1080.
func RenderNarrationASS(narration string, dur time.Duration, width, height int) string {
	words := strings.Fields(sanitizeASS(narration))
	if len(words) == 0 || dur <= 0 {
		return renderASSPlain("", dur, width, height)
	}
	return renderASSLines(timeLines(packWords(words), len(words), dur), width, height)
}

func packWords(words []string) []line {
	var out []line
	var cur line
	curLen := 0
	for _, w := range words {
		wl := len([]rune(w))
		nextLen := curLen
		if curLen > 0 {
			nextLen++
		}
		nextLen += wl
		if len(cur.Words) > 0 && (len(cur.Words) >= wordBudget || nextLen > charBudget) {
			out = append(out, cur)
			cur = line{}
			curLen = 0
		}
		cur.Words = append(cur.Words, w)
		if curLen > 0 {
			curLen++
		}
		curLen += wl
	}
	if len(cur.Words) > 0 {
		out = append(out, cur)
	}
	return out
}

func timeLines(lines []line, total int, dur time.Duration) []line {
	seen := 0
	for i := range lines {
		lines[i].Start = dur * time.Duration(seen) / time.Duration(total)
		seen += len(lines[i].Words)
		lines[i].End = dur * time.Duration(seen) / time.Duration(total)
	}
	// last line runs to the end regardless of rounding
	lines[len(lines)-1].End = dur
	return lines
}

func renderASSLines(lines []line, width, height int) string {
	var b strings.Builder
	b.WriteString(assHeader(width, height))
	b.WriteString("\n[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, ln := range lines {
		b.WriteString("Dialogue: 0,")
		b.WriteString(assTime(ln.Start))
		b.WriteString(",")
		b.WriteString(assTime(ln.End))
		b.WriteString(",Narration,,0,0,0,,")
		b.WriteString(strings.Join(ln.Words, " "))
		b.WriteString("\n")
	}
	return b.String()
}

func renderASSPlain(text string, dur time.Duration, width, height int) string {
	var b strings.Builder
	b.WriteString(assHeader(width, height))
	b.WriteString("\n[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	if text == "" {
		return b.String()
	}
	b.WriteString("Dialogue: 0,0:00:00.00,")
	b.WriteString(assTime(dur))
	b.WriteString(",Narration,,0,0,0,,")
	b.WriteString(sanitizeASS(text))
	b.WriteString("\n")
	return b.String()
}

func assHeader(width, height int) string {
	if width <= 0 || height <= 0 {
		width, height = 1920, 1080
	}
	// font scales with height so 720p and 4k keep the same layout
	fontSize := height * 52 / 1080
	marginV := height * 60 / 1080
	return fmt.Sprintf(strings.TrimSpace(`
[Script Info]
ScriptType: v4.00+
PlayResX: %d
PlayResY: %d
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Narration, Inter, %d, &H00FFFFFF, &H00FFD200, &H00000000, &H64000000, 0,0,0,0,100,100,0,0,1,3,1,2, 80,80,%d,1
`), width, height, fontSize, marginV)
}

func assTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hs := int(d / time.Hour)
	d -= time.Duration(hs) * time.Hour
	ms := int(d / time.Minute)
	d -= time.Duration(ms) * time.Minute
	s := int(d / time.Second)
	d -= time.Duration(s) * time.Second
	cs := int(d / (10 * time.Millisecond))
	return fmt.Sprintf("%d:%02d:%02d.%02d", hs, ms, s, cs)
}

func sanitizeASS(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "{", "(")
	s = strings.ReplaceAll(s, "}", ")")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
