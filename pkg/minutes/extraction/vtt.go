package extraction

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
)

var (
	// 1 "Speaker Name" (123), as written by some meeting platforms.
	vttSpeakerHeader = regexp.MustCompile(`^\d+\s+"([^"]*)"(?:\s+\((\d+)\))?$`)
	// 00:00:05.579 --> 00:00:06.858, hours optional.
	vttTiming = regexp.MustCompile(`^((?:\d{2,}:)?\d{2}:\d{2}[.,]\d{3})\s+-->\s+((?:\d{2,}:)?\d{2}:\d{2}[.,]\d{3})`)
	// <v Speaker Name>text</v>
	vttVoice = regexp.MustCompile(`^<v(?:\.[^ >]+)*\s+([^>]+)>(.*?)(?:</v>)?$`)
	// Speaker Name: text
	vttPrefix = regexp.MustCompile(`^([\p{L}][\p{L}.'\- ]{0,40}):\s+(.+)$`)
	vttTag    = regexp.MustCompile(`</?[^>]+>`)
)

// Cue is one timed caption.
type Cue struct {
	Start   float64
	End     float64
	Speaker string
	Text    string
}

// ParseVTT reads WebVTT captions. Speakers come from a numbered header line,
// a <v> voice tag, or a "Name: " prefix, in that order of precedence.
func ParseVTT(data []byte) ([]Cue, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		cues    []Cue
		cur     *Cue
		speaker string
	)
	flush := func() {
		if cur != nil && cur.Text != "" {
			cues = append(cues, *cur)
		}
		cur = nil
	}

	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		switch {
		case line == "":
			flush()
			speaker = ""
		case strings.HasPrefix(line, "WEBVTT"), strings.HasPrefix(line, "NOTE"):
			flush()
		case vttSpeakerHeader.MatchString(line):
			flush()
			speaker = vttSpeakerHeader.FindStringSubmatch(line)[1]
		case vttTiming.MatchString(line):
			flush()
			m := vttTiming.FindStringSubmatch(line)
			cur = &Cue{Start: parseTimestamp(m[1]), End: parseTimestamp(m[2]), Speaker: speaker}
		case cur != nil:
			text := line
			if m := vttVoice.FindStringSubmatch(text); m != nil {
				cur.Speaker = strings.TrimSpace(m[1])
				text = m[2]
			} else if m := vttPrefix.FindStringSubmatch(text); m != nil && cur.Text == "" {
				cur.Speaker = strings.TrimSpace(m[1])
				text = m[2]
			}
			text = strings.TrimSpace(vttTag.ReplaceAllString(text, ""))
			if text == "" {
				continue
			}
			if cur.Text != "" {
				cur.Text += " "
			}
			cur.Text += text
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return cues, nil
}

// parseTimestamp converts [HH:]MM:SS.mmm to seconds.
func parseTimestamp(ts string) float64 {
	ts = strings.ReplaceAll(ts, ",", ".")
	parts := strings.Split(ts, ":")
	var secs float64
	for _, p := range parts {
		v, _ := strconv.ParseFloat(p, 64)
		secs = secs*60 + v
	}
	return secs
}

func extractVTT(f minutes.FileInfo, data []byte) (fileOutput, error) {
	cues, err := ParseVTT(data)
	if err != nil {
		return fileOutput{}, mnerrors.New(mnerrors.CodeExtraction, minutes.StageExtraction, "parse "+f.Name(), err)
	}
	out := fileOutput{pages: 1}
	for i, c := range cues {
		if c.End <= c.Start {
			continue
		}
		text := c.Text
		if c.Speaker != "" {
			text = c.Speaker + ": " + c.Text
		}
		out.blocks = append(out.blocks, minutes.TextBlock{
			FileID:     f.ID,
			Type:       minutes.BlockCaption,
			Text:       text,
			Confidence: ConfidenceCaption,
			Page:       i + 1,
		})
		out.segments = append(out.segments, minutes.AudioSegment{
			FileID:      f.ID,
			Start:       c.Start,
			End:         c.End,
			SpeakerHint: c.Speaker,
			Confidence:  ConfidenceCaption,
		})
	}
	return out, nil
}
