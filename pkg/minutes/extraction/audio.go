package extraction

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

func (e *Extractor) extractAudio(ctx context.Context, f minutes.FileInfo, data []byte) (fileOutput, error) {
	duration, method := e.probeDuration(ctx, f, data)
	if duration <= 0 {
		return fileOutput{}, fmt.Errorf("could not determine duration of %s", f.Name())
	}
	log := e.logger.With(logging.F("file", f.Name()))
	log.Debug("Audio duration resolved", logging.F("seconds", duration), logging.F("method", method))

	out := fileOutput{audio: &minutes.AudioFile{FileID: f.ID, Duration: duration}}
	if e.diarizer != nil {
		segs, err := e.diarizer.Diarize(ctx, providers.AudioInput{
			Data:     data,
			Filename: f.Name(),
			MIMEType: f.MIMEType,
		}, duration)
		switch {
		case err != nil:
			log.Warn("Diarization failed, using fixed-width segments", logging.Err(err))
		case len(segs) == 0:
			log.Warn("Diarization returned no turns, using fixed-width segments")
		default:
			for i := range segs {
				segs[i].FileID = f.ID
			}
			out.segments = segs
			out.audio.Diarized = true
			return out, nil
		}
	}
	out.segments = FixedSegments(f.ID, duration, e.cfg.SegmentSeconds, e.cfg.SpeakerHints)
	return out, nil
}

// FixedSegments partitions duration into width-second spans with rotating
// "Speaker N" hints. The last span is shortened to end at duration.
func FixedSegments(fileID string, duration, width float64, speakers int) []minutes.AudioSegment {
	if duration <= 0 || width <= 0 {
		return nil
	}
	if speakers <= 0 {
		speakers = 1
	}
	n := int(math.Ceil(duration / width))
	segs := make([]minutes.AudioSegment, 0, n)
	for i := 0; i < n; i++ {
		start := float64(i) * width
		end := math.Min(start+width, duration)
		if end <= start {
			break
		}
		segs = append(segs, minutes.AudioSegment{
			FileID:      fileID,
			Start:       start,
			End:         end,
			SpeakerHint: fmt.Sprintf("Speaker %d", i%speakers+1),
			Confidence:  ConfidenceAudioHint,
		})
	}
	return segs
}

// probeDuration tries the WAV header, then ffprobe, then a bitrate estimate.
func (e *Extractor) probeDuration(ctx context.Context, f minutes.FileInfo, data []byte) (float64, string) {
	if d, err := WAVDuration(data); err == nil && d > 0 {
		return d, "wav_header"
	}
	if d, err := e.ffprobe(ctx, f, data); err == nil && d > 0 {
		return d, "ffprobe"
	} else if err != nil {
		e.logger.Debug("ffprobe unavailable", logging.F("file", f.Name()), logging.Err(err))
	}
	size := f.Size
	if size <= 0 {
		size = int64(len(data))
	}
	return float64(size*8) / float64(e.cfg.AssumedBitrate), "bitrate_estimate"
}

// WAVDuration reads the duration of a RIFF/WAVE file from its fmt and data chunks.
func WAVDuration(data []byte) (float64, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return 0, fmt.Errorf("not a wav file")
	}
	var byteRate uint32
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8
		switch id {
		case "fmt ":
			if body+12 > len(data) {
				return 0, fmt.Errorf("truncated fmt chunk")
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			if byteRate == 0 {
				return 0, fmt.Errorf("data chunk before fmt chunk")
			}
			// Streaming writers leave the size unset; use what is present.
			if size == 0 || size == math.MaxUint32 || body+int(size) > len(data) {
				size = uint32(len(data) - body)
			}
			return float64(size) / float64(byteRate), nil
		}
		pos = body + int(size) + int(size%2)
	}
	return 0, fmt.Errorf("no data chunk")
}

func (e *Extractor) ffprobe(ctx context.Context, f minutes.FileInfo, data []byte) (float64, error) {
	bin := e.cfg.FFProbePath
	if bin == "" {
		var err error
		if bin, err = exec.LookPath("ffprobe"); err != nil {
			return 0, err
		}
	}
	tmp, err := os.CreateTemp("", "minutes-probe-*"+filepath.Ext(f.Name()))
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}

	out, err := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		tmp.Name()).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	return strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
}
