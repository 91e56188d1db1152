// Package languagetool is a client for the LanguageTool HTTP API, used as the
// grammar linter of the validation stage.
package languagetool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

const providerName = "languagetool"

// Config configures the client.
type Config struct {
	URL      string        `yaml:"url"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Client calls POST /v2/check.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ providers.GrammarChecker = (*Client)(nil)

// New creates a client for the server at cfg.URL.
func New(cfg Config) *Client {
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type checkResponse struct {
	Matches []struct {
		Message      string `json:"message"`
		Offset       int    `json:"offset"`
		Length       int    `json:"length"`
		Replacements []struct {
			Value string `json:"value"`
		} `json:"replacements"`
		Rule struct {
			ID        string `json:"id"`
			IssueType string `json:"issueType"`
			Category  struct {
				ID string `json:"id"`
			} `json:"category"`
		} `json:"rule"`
	} `json:"matches"`
}

// Check lints text. language overrides the configured default when set.
func (c *Client) Check(ctx context.Context, text, language string) ([]providers.GrammarMatch, error) {
	if language == "" {
		language = c.cfg.Language
	}
	form := url.Values{}
	form.Set("text", text)
	form.Set("language", language)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/v2/check", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building languagetool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, mnerrors.FromStatus(providerName, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, mnerrors.FromStatus(providerName, resp.StatusCode, fmt.Errorf("languagetool: %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}

	var parsed checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, mnerrors.New(mnerrors.CodeParseError, "", "languagetool: decoding response", err)
	}

	out := make([]providers.GrammarMatch, 0, len(parsed.Matches))
	for _, m := range parsed.Matches {
		gm := providers.GrammarMatch{
			Offset:    m.Offset,
			Length:    m.Length,
			Message:   m.Message,
			RuleID:    m.Rule.ID,
			Category:  m.Rule.Category.ID,
			IssueType: m.Rule.IssueType,
		}
		for _, r := range m.Replacements {
			gm.Replacements = append(gm.Replacements, r.Value)
		}
		out = append(out, gm)
	}
	return out, nil
}
