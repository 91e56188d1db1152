// Package narration renders finished minutes as spoken audio artifacts.
package narration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/otherjamesbrown/minutes/pkg/blob"
	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

// Artifact kinds, also the blob file names.
const (
	KindSummary    = "summary"
	KindKeyPoints  = "key_points"
	KindTranscript = "transcript"
)

// Config tunes the narrator.
type Config struct {
	// Silence inserted between synthesized chunks.
	Silence time.Duration
	// MaxChars caps chunk length below the provider limit when set.
	MaxChars int
	// URLTTL is the lifetime of presigned artifact URLs.
	URLTTL       time.Duration
	DefaultVoice string
}

// DefaultConfig returns the narrator defaults.
func DefaultConfig() Config {
	return Config{
		Silence: 400 * time.Millisecond,
		URLTTL:  7 * 24 * time.Hour,
	}
}

// Narrator runs the narration stage.
type Narrator struct {
	cfg    Config
	tts    providers.TextToSpeech
	blobs  blob.Store
	logger logging.Logger
}

// New builds a Narrator.
func New(cfg Config, tts providers.TextToSpeech, blobs blob.Store, logger logging.Logger) *Narrator {
	d := DefaultConfig()
	if cfg.Silence <= 0 {
		cfg.Silence = d.Silence
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = d.URLTTL
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Narrator{cfg: cfg, tts: tts, blobs: blobs, logger: logger.With(logging.F("component", "narration"))}
}

// ArtifactKey is the blob key of one narration artifact.
func ArtifactKey(jobID, kind string) string {
	return fmt.Sprintf("jobs/%s/narration/%s.wav", jobID, kind)
}

// Narrate synthesizes the three artifacts in parallel. Failures are isolated
// per artifact and per chunk; only context cancellation is returned as an error.
func (n *Narrator) Narrate(ctx context.Context, jobID string, m *minutes.FinalMinutes, voice string) (minutes.NarrationURLs, error) {
	var urls minutes.NarrationURLs
	if m == nil || n.tts == nil {
		n.logger.Warn("Narration skipped: nothing to narrate or no speech provider")
		return urls, nil
	}
	if voice == "" {
		voice = n.cfg.DefaultVoice
	}

	scripts := map[string]string{
		KindSummary:    SummaryScript(m),
		KindKeyPoints:  KeyPointsScript(m),
		KindTranscript: TranscriptScript(m),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for kind, script := range scripts {
		g.Go(func() error {
			url, err := n.artifact(gctx, jobID, kind, script, voice)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				n.logger.Warn("Narration artifact failed", logging.F("kind", kind), logging.Err(err))
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			switch kind {
			case KindSummary:
				urls.Summary = url
			case KindKeyPoints:
				urls.KeyPoints = url
			case KindTranscript:
				urls.Transcript = url
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return minutes.NarrationURLs{}, err
	}
	if urls.Empty() {
		n.logger.Warn("Narration produced no artifacts", logging.F("job_id", jobID))
	}
	return urls, nil
}

func (n *Narrator) artifact(ctx context.Context, jobID, kind, script, voice string) (string, error) {
	if script == "" {
		return "", fmt.Errorf("empty %s script", kind)
	}
	limit := n.tts.MaxInputChars()
	if n.cfg.MaxChars > 0 && (limit <= 0 || n.cfg.MaxChars < limit) {
		limit = n.cfg.MaxChars
	}
	chunks := Chunk(script, limit)

	var (
		pcm     []byte
		format  *providers.Audio
		skipped int
	)
	for i, chunk := range chunks {
		audio, err := n.tts.Synthesize(ctx, providers.SpeechRequest{Text: chunk, Voice: voice})
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			n.logger.Warn("Skipping narration chunk", logging.F("kind", kind), logging.F("chunk", i), logging.Err(err))
			skipped++
			continue
		}
		if format == nil {
			format = audio
		} else if audio.SampleRate != format.SampleRate || audio.Channels != format.Channels {
			n.logger.Warn("Skipping narration chunk with mismatched format",
				logging.F("kind", kind), logging.F("chunk", i),
				logging.F("sample_rate", audio.SampleRate), logging.F("expected", format.SampleRate))
			skipped++
			continue
		}
		if len(pcm) > 0 {
			pcm = append(pcm, Silence(n.cfg.Silence, format.SampleRate, format.Channels)...)
		}
		pcm = append(pcm, audio.PCM...)
	}
	if format == nil {
		return "", fmt.Errorf("all %d chunks failed", len(chunks))
	}

	key := ArtifactKey(jobID, kind)
	meta := map[string]string{
		"job_id":   jobID,
		"kind":     kind,
		"provider": format.Provider,
		"chunks":   fmt.Sprint(len(chunks) - skipped),
	}
	if _, err := n.blobs.Upload(ctx, key, EncodeWAV(pcm, format.SampleRate, format.Channels), "audio/wav", meta); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return n.blobs.Presign(key, n.cfg.URLTTL)
}
