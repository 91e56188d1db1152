package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/minutes/pkg/blob"
	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

type mockOCR struct{ mock.Mock }

func (m *mockOCR) Name() string { return "mock-ocr" }

func (m *mockOCR) Recognize(ctx context.Context, image []byte, mimeType string) (*providers.OCRResult, error) {
	args := m.Called(ctx, image, mimeType)
	if r := args.Get(0); r != nil {
		return r.(*providers.OCRResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockDiarizer struct{ mock.Mock }

func (m *mockDiarizer) Diarize(ctx context.Context, in providers.AudioInput, duration float64) ([]minutes.AudioSegment, error) {
	args := m.Called(ctx, in, duration)
	if r := args.Get(0); r != nil {
		return r.([]minutes.AudioSegment), args.Error(1)
	}
	return nil, args.Error(1)
}

// wavBytes builds a 16 kHz mono 16-bit WAV of the given length.
func wavBytes(seconds float64) []byte {
	const rate, channels, bits = 16000, 1, 16
	dataLen := uint32(seconds * rate * channels * bits / 8)
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, 36+dataLen)
	b.WriteString("WAVEfmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&b, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(rate*channels*bits/8))
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels*bits/8))
	_ = binary.Write(&b, binary.LittleEndian, uint16(bits))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, dataLen)
	b.Write(make([]byte, dataLen))
	return b.Bytes()
}

func docxBytes(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type fixture struct {
	store *blob.LocalStore
	files []minutes.FileInfo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := blob.NewLocalStore(blob.LocalConfig{Root: t.TempDir(), SigningKey: "k"})
	require.NoError(t, err)
	return &fixture{store: s}
}

func (f *fixture) add(t *testing.T, name, mimeType string, data []byte) {
	t.Helper()
	key := "uploads/" + name
	_, err := f.store.Upload(context.Background(), key, data, mimeType, nil)
	require.NoError(t, err)
	f.files = append(f.files, minutes.FileInfo{
		ID:           name,
		BlobURI:      blob.URI(key),
		MIMEType:     mimeType,
		OriginalName: name,
		Size:         int64(len(data)),
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		mime, name string
		want       Kind
	}{
		{"application/pdf", "a.pdf", KindPDF},
		{"text/plain; charset=utf-8", "notes", KindText},
		{"text/markdown", "a.md", KindText},
		{"text/vtt", "a.vtt", KindVTT},
		{"image/png", "a.png", KindImage},
		{"audio/mpeg", "a.mp3", KindAudio},
		{"video/mp4", "a.mp4", KindAudio},
		{"application/octet-stream", "call.wav", KindAudio},
		{"application/octet-stream", "blob", KindUnsupported},
		{"application/zip", "a.zip", KindUnsupported},
		{docxMIME, "a.docx", KindDOCX},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.mime, tt.name), tt.mime+" "+tt.name)
	}
}

func TestWAVDuration(t *testing.T) {
	d, err := WAVDuration(wavBytes(2.5))
	require.NoError(t, err)
	assert.InDelta(t, 2.5, d, 1e-9)

	_, err = WAVDuration([]byte("ID3 not a wav"))
	assert.Error(t, err)
}

func TestFixedSegments(t *testing.T) {
	segs := FixedSegments("f1", 75, 30, 2)
	require.Len(t, segs, 3)
	assert.Equal(t, "Speaker 1", segs[0].SpeakerHint)
	assert.Equal(t, "Speaker 2", segs[1].SpeakerHint)
	assert.Equal(t, "Speaker 1", segs[2].SpeakerHint)
	assert.Equal(t, 60.0, segs[2].Start)
	assert.Equal(t, 75.0, segs[2].End)
	for _, s := range segs {
		assert.Equal(t, ConfidenceAudioHint, s.Confidence)
	}
	assert.Empty(t, FixedSegments("f1", 0, 30, 2))
}

func TestParseVTT(t *testing.T) {
	data := []byte(`WEBVTT

1 "Alice Smith" (101)
00:00:01.000 --> 00:00:04.500
Good morning everyone.

2
00:00:05.000 --> 00:00:07.000
<v Bob Jones>Morning, shall we start?</v>

00:00:08.000 --> 00:00:10.250
Carol: Yes, first item
is the budget.
`)
	cues, err := ParseVTT(data)
	require.NoError(t, err)
	require.Len(t, cues, 3)

	assert.Equal(t, Cue{Start: 1, End: 4.5, Speaker: "Alice Smith", Text: "Good morning everyone."}, cues[0])
	assert.Equal(t, "Bob Jones", cues[1].Speaker)
	assert.Equal(t, "Morning, shall we start?", cues[1].Text)
	assert.Equal(t, "Carol", cues[2].Speaker)
	assert.Equal(t, "Yes, first item is the budget.", cues[2].Text)
	assert.InDelta(t, 10.25, cues[2].End, 1e-9)
}

func TestDocxParagraphs(t *testing.T) {
	body := `<w:p><w:r><w:t>Agenda</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Budget </w:t></w:r><w:r><w:t>review</w:t></w:r></w:p>
<w:p></w:p>
<w:tbl><w:tr><w:tc><w:p><w:r><w:t>Owner</w:t></w:r></w:p></w:tc></w:tr></w:tbl>`
	out, err := extractDOCX(minutes.FileInfo{ID: "d"}, docxBytes(t, body))
	require.NoError(t, err)
	require.Len(t, out.blocks, 3)
	assert.Equal(t, "Agenda", out.blocks[0].Text)
	assert.Equal(t, "Budget review", out.blocks[1].Text)
	assert.Equal(t, minutes.BlockTable, out.blocks[2].Type)
	assert.Equal(t, ConfidenceDOCX, out.blocks[0].Confidence)
}

func TestExtract_MixedInputs(t *testing.T) {
	f := newFixture(t)
	f.add(t, "notes.txt", "text/plain", []byte("Alice: We agreed to migrate to kubernetes.\n\nBudget is $40,000 due March 3rd."))
	f.add(t, "call.wav", "audio/wav", wavBytes(45))
	f.add(t, "archive.zip", "application/zip", []byte("PK"))
	f.files = append(f.files, minutes.FileInfo{ID: "gone", BlobURI: blob.URI("uploads/missing.txt"), MIMEType: "text/plain", OriginalName: "missing.txt"})

	res, err := New(Config{}, f.store).Extract(context.Background(), f.files)
	require.NoError(t, err)

	require.Len(t, res.TextBlocks, 2)
	assert.Equal(t, "notes.txt", res.TextBlocks[0].FileID)
	require.Len(t, res.AudioSegments, 2)
	require.Len(t, res.AudioFiles, 1)
	assert.InDelta(t, 45, res.TotalDuration, 1e-9)

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "archive.zip", res.Skipped[0].Name)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "missing.txt", res.Failed[0].Name)

	// Two text blocks at 1.0 and two audio hints at 0.5.
	assert.InDelta(t, 0.75, res.Confidence, 1e-9)
	assert.Equal(t, AlgorithmVersion, res.AlgorithmVersion)

	assert.Contains(t, res.Entities[minutes.EntityMoney], "$40,000")
	assert.Contains(t, res.Entities[minutes.EntityDate], "March 3rd")
	assert.Contains(t, res.Entities[minutes.EntityPerson], "Alice")
}

func TestExtract_NothingUsable(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a.zip", "application/zip", []byte("PK"))

	_, err := New(Config{}, f.store).Extract(context.Background(), f.files)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mnerrors.ErrExtraction))
}

func TestExtract_ImageNeedsOCR(t *testing.T) {
	f := newFixture(t)
	f.add(t, "slide.png", "image/png", []byte("png"))
	f.add(t, "notes.md", "text/markdown", []byte("# Notes"))

	res, err := New(Config{}, f.store).Extract(context.Background(), f.files)
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed[0].Reason, "no OCR provider")

	ocr := &mockOCR{}
	ocr.On("Recognize", mock.Anything, []byte("png"), "image/png").
		Return(&providers.OCRResult{Text: "Q3 roadmap", Confidence: 0.8}, nil)
	res, err = New(Config{}, f.store, WithOCR(ocr)).Extract(context.Background(), f.files)
	require.NoError(t, err)
	require.Len(t, res.TextBlocks, 2)
	assert.Equal(t, minutes.BlockOCR, res.TextBlocks[0].Type)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	ocr.AssertExpectations(t)
}

func TestExtract_DiarizerFallback(t *testing.T) {
	f := newFixture(t)
	f.add(t, "call.wav", "audio/wav", wavBytes(10))

	d := &mockDiarizer{}
	d.On("Diarize", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("model offline")).Once()
	res, err := New(Config{SegmentSeconds: 4}, f.store, WithDiarizer(d)).Extract(context.Background(), f.files)
	require.NoError(t, err)
	assert.Len(t, res.AudioSegments, 3)
	assert.False(t, res.AudioFiles[0].Diarized)

	d.On("Diarize", mock.Anything, mock.Anything, mock.Anything).Return([]minutes.AudioSegment{
		{Start: 0, End: 6, SpeakerHint: "Ana", Confidence: 0.9},
		{Start: 6, End: 10, SpeakerHint: "Ben", Confidence: 0.9},
	}, nil).Once()
	res, err = New(Config{SegmentSeconds: 4}, f.store, WithDiarizer(d)).Extract(context.Background(), f.files)
	require.NoError(t, err)
	require.Len(t, res.AudioSegments, 2)
	assert.Equal(t, "call.wav", res.AudioSegments[0].FileID)
	assert.True(t, res.AudioFiles[0].Diarized)
}

func TestExtract_VTTCaptions(t *testing.T) {
	f := newFixture(t)
	f.add(t, "meeting.vtt", "text/vtt", []byte("WEBVTT\n\n00:00:00.000 --> 00:00:03.000\n<v Dana>Hello from München.\n"))

	res, err := New(Config{}, f.store).Extract(context.Background(), f.files)
	require.NoError(t, err)
	require.Len(t, res.TextBlocks, 1)
	assert.Equal(t, "Dana: Hello from München.", res.TextBlocks[0].Text)
	require.Len(t, res.AudioSegments, 1)
	assert.Equal(t, "Dana", res.AudioSegments[0].SpeakerHint)
	assert.False(t, res.HasAudio())
	assert.Equal(t, []string{"München"}, res.Entities[minutes.EntityLocation])
}

func TestDedupeEntities(t *testing.T) {
	out := dedupeEntities(map[minutes.EntityKind][]string{
		minutes.EntityLocation: {"Zürich", "zurich", "ZURICH", "Kraków"},
	})
	assert.Equal(t, []string{"Zürich", "Kraków"}, out[minutes.EntityLocation])
}
