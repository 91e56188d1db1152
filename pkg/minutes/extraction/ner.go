package extraction

import (
	"context"
	"strings"

	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

// DefaultEntityTokenBudget bounds the document text sent for recognition.
const DefaultEntityTokenBudget = 6000

const entitySystem = `You are a named-entity recognizer for meeting material.
List every person, organization, location, date and monetary amount mentioned in the text,
spelled exactly as written. Do not invent entities. Use empty lists for kinds not present.
Reply with JSON: {"person":[],"organization":[],"location":[],"date":[],"money":[]}`

type entityReply struct {
	Person       []string `json:"person"`
	Organization []string `json:"organization"`
	Location     []string `json:"location"`
	Date         []string `json:"date"`
	Money        []string `json:"money"`
}

// LLMRecognizer asks the language model for named entities and merges them
// with the fallback recognizer's findings. Without a model, or when the call
// fails, only the fallback runs.
type LLMRecognizer struct {
	llm      providers.LLM
	fallback EntityRecognizer
	tokens   *providers.TokenCounter
	budget   int
	logger   logging.Logger
}

// NewLLMRecognizer builds a recognizer over llm. A nil fallback uses the
// heuristic recognizer with the built-in dictionary.
func NewLLMRecognizer(llm providers.LLM, fallback EntityRecognizer, logger logging.Logger) *LLMRecognizer {
	if fallback == nil {
		fallback = NewHeuristicRecognizer(nil)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &LLMRecognizer{
		llm:      llm,
		fallback: fallback,
		tokens:   providers.NewTokenCounter(),
		budget:   DefaultEntityTokenBudget,
		logger:   logger.With(logging.F("component", "entities")),
	}
}

// Recognize implements EntityRecognizer.
func (r *LLMRecognizer) Recognize(ctx context.Context, text string) (map[minutes.EntityKind][]string, error) {
	out, fbErr := r.fallback.Recognize(ctx, text)
	if out == nil {
		out = map[minutes.EntityKind][]string{}
	}
	if !r.hasModel() {
		return out, fbErr
	}

	var reply entityReply
	_, err := providers.CompleteJSON(ctx, r.llm, providers.CompletionRequest{
		Purpose:     "extraction.entities",
		System:      entitySystem,
		Prompt:      r.tokens.Truncate(text, r.budget),
		Temperature: 0,
	}, &reply)
	if err != nil {
		r.logger.Warn("Model entity recognition failed, using heuristics only", logging.Err(err))
		return out, fbErr
	}

	add := func(kind minutes.EntityKind, values []string) {
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				out[kind] = append(out[kind], v)
			}
		}
	}
	add(minutes.EntityPerson, reply.Person)
	add(minutes.EntityOrganization, reply.Organization)
	add(minutes.EntityLocation, reply.Location)
	add(minutes.EntityDate, reply.Date)
	add(minutes.EntityMoney, reply.Money)
	return out, nil
}

func (r *LLMRecognizer) hasModel() bool {
	if r.llm == nil {
		return false
	}
	if c, ok := r.llm.(*providers.LLMChain); ok {
		return c.Len() > 0
	}
	return true
}
