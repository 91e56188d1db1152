package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/minutes/pkg/minutes"
)

func completedJob() *minutes.Job {
	job := sampleJob(minutes.StatusComplete)
	job.Final = &minutes.FinalMinutes{
		Title:            "Release planning",
		Date:             time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Participants:     []string{"Alice", "Bob"},
		ExecutiveSummary: "The team agreed to ship on Friday.",
		KeyTopics:        []string{"Release date"},
		Decisions:        []minutes.Decision{{Statement: "Ship Friday"}},
		ActionItems:      []minutes.ActionItem{{Item: "Tag the release", Owner: "Alice", Priority: "high", Status: "open"}},
		QualityScore:     0.92,
	}
	return job
}

func TestExport_Markdown(t *testing.T) {
	h := newHarness(t)
	job := completedJob()
	h.svc.put(job)

	out, err := run(t, NewExportCommand(h.deps), job.ID.String(), "--format", "md")
	require.NoError(t, err)
	assert.Contains(t, out, "# Release planning")
	assert.Contains(t, out, "Tag the release")
}

func TestExport_JSONToFile(t *testing.T) {
	h := newHarness(t)
	job := completedJob()
	h.svc.put(job)
	path := filepath.Join(t.TempDir(), "minutes.json")

	out, err := run(t, NewExportCommand(h.deps), job.ID.String(), "--format", "json", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got minutes.FinalMinutes
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "Release planning", got.Title)
	assert.Len(t, got.ActionItems, 1)
}

func TestExport_NotFinished(t *testing.T) {
	h := newHarness(t)
	job := sampleJob(minutes.StatusHITLPending)
	h.svc.put(job)

	_, err := run(t, NewExportCommand(h.deps), job.ID.String())
	assert.ErrorContains(t, err, "no final minutes")
}

func TestExport_BadFormat(t *testing.T) {
	h := newHarness(t)
	_, err := run(t, NewExportCommand(h.deps), sampleJob(minutes.StatusComplete).ID.String(), "--format", "docx")
	assert.Error(t, err)
}
