package refinement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

type mockLLM struct{ mock.Mock }

func (m *mockLLM) Name() string  { return "mock" }
func (m *mockLLM) Model() string { return "mock-1" }

func (m *mockLLM) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	args := m.Called(req.Purpose, req.Prompt)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	content := args.Get(0)
	if fn, ok := content.(func(string) string); ok {
		return &providers.CompletionResponse{Content: fn(req.Prompt), Provider: "mock", Model: "mock-1"}, nil
	}
	return &providers.CompletionResponse{Content: content.(string), Provider: "mock", Model: "mock-1"}, nil
}

// echoPolish returns every segment with its text upper-cased.
func echoPolish(keep float64) func(string) string {
	return func(prompt string) string {
		var in []polishSegment
		_ = json.Unmarshal([]byte(prompt), &in)
		n := int(float64(len(in)) * keep)
		out := polishReply{}
		for _, s := range in[:n] {
			out.Segments = append(out.Segments, polishSegment{ID: s.ID, Text: "polished " + s.Text})
		}
		b, _ := json.Marshal(out)
		return string(b)
	}
}

func structuredLLM(polish func(string) string) *mockLLM {
	m := &mockLLM{}
	m.On("Complete", "refine.metadata", mock.Anything).Return(`{"title":"Q3 planning","date":"2026-03-04","participants":[],"meeting_type":"planning"}`, nil)
	m.On("Complete", "refine.summary", mock.Anything).Return(`{"executive_summary":"We planned Q3.","key_topics":["budget"]}`, nil)
	m.On("Complete", "refine.decisions", mock.Anything).Return(`{"decisions":[{"statement":"Adopt Kubernetes"},{"statement":"  "}]}`, nil)
	m.On("Complete", "refine.action_items", mock.Anything).Return(`{"action_items":[{"item":"Draft budget","priority":"URGENT"},{"item":"Book venue","owner":"Ana","priority":"High"}]}`, nil)
	m.On("Complete", "refine.polish", mock.Anything).Return(polish, nil)
	return m
}

func segments(n int) []minutes.TranscriptSegment {
	segs := make([]minutes.TranscriptSegment, n)
	for i := range segs {
		segs[i] = minutes.TranscriptSegment{
			ID:         minutes.SegmentID(i),
			Speaker:    fmt.Sprintf("Speaker %d", i%2+1),
			Start:      float64(i * 10),
			End:        float64(i*10 + 9),
			Text:       fmt.Sprintf("line %d", i),
			Confidence: 0.8,
		}
	}
	return segs
}

func TestApplyText(t *testing.T) {
	got, ok := applyText("we met in Zurich and Zurich again", "Zurich", "Zürich")
	assert.True(t, ok)
	assert.Equal(t, "we met in Zürich and Zürich again", got)

	got, ok = applyText("no ending", "no ending", "no ending.")
	assert.True(t, ok)
	assert.Equal(t, "no ending.", got)

	_, ok = applyText("unrelated", "Zurich", "Zürich")
	assert.False(t, ok)

	got, ok = applyText("She said the ai rollout is rapid.", "ai", "AI")
	assert.True(t, ok)
	assert.Equal(t, "She said the AI rollout is rapid.", got)

	got, ok = applyText("three apis, the api and api-first", "api", "API")
	assert.True(t, ok)
	assert.Equal(t, "three apis, the API and API-first", got)

	got, ok = applyText("Zürich_hr and hr.", "hr", "HR")
	assert.True(t, ok)
	assert.Equal(t, "Zürich_hr and HR.", got)

	_, ok = applyText("she said it was rapid", "ai", "AI")
	assert.False(t, ok)
}

func TestApplyCorrections_WholeWordsOnly(t *testing.T) {
	segs := []minutes.TranscriptSegment{
		{ID: "seg-0001", Text: "She said the ai rollout and three apis are rapid.", Confidence: 0.9},
	}
	issues := []minutes.ValidationIssue{
		{ID: "a", Category: minutes.CategoryNameCorrection, SegmentID: "seg-0001", Original: "ai", Suggested: "AI", Confidence: 0.99},
		{ID: "b", Category: minutes.CategoryNameCorrection, SegmentID: "seg-0001", Original: "hr", Suggested: "HR", Confidence: 0.99},
		{ID: "c", Category: minutes.CategoryNameCorrection, SegmentID: "seg-0001", Original: "apis", Suggested: "APIs", Confidence: 0.99},
	}
	out, n := ApplyCorrections(segs, issues, minutes.ReviewState{})

	assert.Equal(t, 2, n)
	assert.Equal(t, "She said the AI rollout and three APIs are rapid.", out[0].Text)
}

func TestApplyCorrections(t *testing.T) {
	segs := []minutes.TranscriptSegment{
		{ID: "seg-0001", Text: "Push to git hub today", Confidence: 0.97},
		{ID: "seg-0002", Text: "Update Confluense", Confidence: 0.5},
	}
	issues := []minutes.ValidationIssue{
		{ID: "a", Category: minutes.CategoryNameCorrection, SegmentID: "seg-0001", Original: "git hub", Suggested: "GitHub", Confidence: 0.98},
		{ID: "b", Category: minutes.CategoryGrammar, SegmentID: "seg-0001", Original: "Push to git hub today", Suggested: "Push to git hub today.", Confidence: 0.95},
		{ID: "c", Category: minutes.CategoryTermSuggestion, SegmentID: "seg-0002", Original: "Confluense", Suggested: "Confluence", Confidence: 0.8},
		{ID: "d", Category: minutes.CategoryGrammar, SegmentID: "seg-0002", Original: "Update", Suggested: "Updated", Confidence: 0.9},
		{ID: "e", Category: minutes.CategoryNameCorrection, SegmentID: "seg-0002", Original: "Update", Suggested: "UPDATE", Confidence: 1},
	}
	out, n := ApplyCorrections(segs, issues, minutes.ReviewState{IgnoredIssueIDs: []string{"e"}})

	// The grammar fix targeted the pre-correction text, so only the locale fix lands.
	assert.Equal(t, 1, n)
	assert.Equal(t, "Push to GitHub today", out[0].Text)
	assert.Equal(t, 1.0, out[0].Confidence)
	assert.Equal(t, "Update Confluense", out[1].Text)
	assert.Equal(t, "Push to git hub today", segs[0].Text)
}

func TestMergeEdits(t *testing.T) {
	draft := segments(3)
	edits := []minutes.TranscriptSegment{
		{ID: "seg-0002", Speaker: "Ana", Start: 10, End: 19, Text: "edited", Confidence: 1},
		{ID: "", Speaker: "Ana", Start: 40, End: 45, Text: "added", Confidence: 1},
	}
	out := MergeEdits(draft, edits)
	require.Len(t, out, 4)
	assert.Equal(t, "edited", out[1].Text)
	assert.Equal(t, "Ana", out[1].Speaker)
	assert.Equal(t, "line 0", out[0].Text)
	assert.Equal(t, "seg-0004", out[3].ID)
}

func TestRefine(t *testing.T) {
	llm := structuredLLM(echoPolish(1))
	draft := &minutes.DraftTranscript{Segments: segments(7), Models: []minutes.ModelRef{{Purpose: "transcription", Provider: "openai", Model: "whisper-1"}}}
	report := &minutes.ValidationReport{Scores: minutes.Scores{Overall: 0.8}}

	final, err := New(Config{}, llm, nil).Refine(context.Background(), Input{Draft: draft, Validation: report})
	require.NoError(t, err)

	assert.Equal(t, "Q3 planning", final.Title)
	assert.Equal(t, 2026, final.Date.Year())
	assert.Equal(t, []string{"Speaker 1", "Speaker 2"}, final.Participants)
	require.Len(t, final.Decisions, 1)
	require.Len(t, final.ActionItems, 2)
	assert.Equal(t, minutes.DefaultOwner, final.ActionItems[0].Owner)
	assert.Equal(t, minutes.DefaultPriority, final.ActionItems[0].Priority)
	assert.Equal(t, "high", final.ActionItems[1].Priority)
	assert.Equal(t, minutes.DefaultStatus, final.ActionItems[1].Status)

	require.Len(t, final.Transcript, 7)
	for i, s := range final.Transcript {
		assert.Equal(t, "polished line "+fmt.Sprint(i), s.Text)
		assert.Equal(t, draft.Segments[i].Start, s.Start)
		assert.Equal(t, draft.Segments[i].Speaker, s.Speaker)
	}
	// 0.8 + decisions + actions + more than five segments.
	assert.InDelta(t, 1.0, final.QualityScore, 1e-9)
	assert.Contains(t, final.Provenance.Models, minutes.ModelRef{Purpose: "transcription", Provider: "openai", Model: "whisper-1"})
	assert.Contains(t, final.Provenance.Models, minutes.ModelRef{Purpose: "polish", Provider: "mock", Model: "mock-1"})
}

func TestRefine_PolishGuard(t *testing.T) {
	// Three of five segments is below the 80% floor: every batch is kept as is.
	llm := structuredLLM(echoPolish(0.6))
	draft := &minutes.DraftTranscript{Segments: segments(10)}

	final, err := New(Config{}, llm, nil).Refine(context.Background(), Input{Draft: draft})
	require.NoError(t, err)
	require.Len(t, final.Transcript, 10)
	for i, s := range final.Transcript {
		assert.Equal(t, draft.Segments[i].Text, s.Text)
	}

	// Four of five meets the floor.
	llm = structuredLLM(echoPolish(0.8))
	final, err = New(Config{}, llm, nil).Refine(context.Background(), Input{Draft: draft})
	require.NoError(t, err)
	assert.Equal(t, "polished line 0", final.Transcript[0].Text)
	assert.Equal(t, "line 4", final.Transcript[4].Text)
	assert.Len(t, final.Transcript, 10)
}

func TestRefine_StructuredFailure(t *testing.T) {
	llm := &mockLLM{}
	llm.On("Complete", "refine.decisions", mock.Anything).Return("", mnerrors.FromStatus("mock", 400, errors.New("bad request")))
	llm.On("Complete", mock.Anything, mock.Anything).Return(`{}`, nil)

	_, err := New(Config{}, llm, nil).Refine(context.Background(), Input{Draft: &minutes.DraftTranscript{Segments: segments(2)}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, mnerrors.ErrRefinement))
}

func TestQuality(t *testing.T) {
	report := &minutes.ValidationReport{
		Scores: minutes.Scores{Overall: 0.7},
		Issues: []minutes.ValidationIssue{{ID: "x", Severity: minutes.SeverityCritical}},
	}
	final := &minutes.FinalMinutes{Decisions: []minutes.Decision{{Statement: "s"}}}
	assert.InDelta(t, 0.6, Quality(report, minutes.ReviewState{}, final), 1e-9)
	assert.InDelta(t, 0.8, Quality(report, minutes.ReviewState{ResolvedIssueIDs: []string{"x"}}, final), 1e-9)
	assert.Equal(t, 0.0, Quality(&minutes.ValidationReport{Issues: report.Issues}, minutes.ReviewState{}, &minutes.FinalMinutes{}))
}
