package refinement

import (
	"strings"
	"time"

	"github.com/otherjamesbrown/minutes/pkg/minutes"
)

const metadataSystem = `Extract meeting metadata from the transcript.
Reply with JSON: {"title":"...","date":"YYYY-MM-DD or empty","participants":["..."],"meeting_type":"...","location":"..."}`

const summarySystem = `Write an executive summary of the meeting transcript in 3-5 sentences
and list its key topics.
Reply with JSON: {"executive_summary":"...","key_topics":["..."]}`

const decisionsSystem = `List the decisions made in the meeting transcript. Only include
decisions that were explicitly agreed.
Reply with JSON: {"decisions":[{"statement":"...","rationale":"...","stakeholders":["..."],"implementation_date":"..."}]}`

const actionsSystem = `List the action items from the meeting transcript. Use the speaker
names for owners when the transcript assigns one.
Reply with JSON: {"action_items":[{"item":"...","owner":"...","due_date":"...","priority":"low|medium|high","category":"..."}]}`

type metadataReply struct {
	Title        string   `json:"title"`
	Date         string   `json:"date"`
	Participants []string `json:"participants"`
	MeetingType  string   `json:"meeting_type"`
	Location     string   `json:"location"`
}

func (m metadataReply) date(fallback time.Time) time.Time {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "January 2, 2006", "2 January 2006"} {
		if t, err := time.Parse(layout, strings.TrimSpace(m.Date)); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

type summaryReply struct {
	ExecutiveSummary string   `json:"executive_summary"`
	KeyTopics        []string `json:"key_topics"`
}

type decisionsReply struct {
	Decisions []minutes.Decision `json:"decisions"`
}

func (d decisionsReply) decisions() []minutes.Decision {
	out := make([]minutes.Decision, 0, len(d.Decisions))
	for _, dec := range d.Decisions {
		if strings.TrimSpace(dec.Statement) != "" {
			out = append(out, dec)
		}
	}
	return out
}

type actionsReply struct {
	ActionItems []minutes.ActionItem `json:"action_items"`
}

func (a actionsReply) items() []minutes.ActionItem {
	out := make([]minutes.ActionItem, 0, len(a.ActionItems))
	for _, it := range a.ActionItems {
		if strings.TrimSpace(it.Item) == "" {
			continue
		}
		if strings.TrimSpace(it.Owner) == "" {
			it.Owner = minutes.DefaultOwner
		}
		switch strings.ToLower(it.Priority) {
		case "low", "medium", "high":
			it.Priority = strings.ToLower(it.Priority)
		default:
			it.Priority = minutes.DefaultPriority
		}
		if it.Status == "" {
			it.Status = minutes.DefaultStatus
		}
		out = append(out, it)
	}
	return out
}
