// Package cmd provides CLI commands for the minutes tool.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/minutes/client"
	"github.com/otherjamesbrown/minutes/config"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
)

// CommandDeps holds the dependencies shared by the commands.
type CommandDeps struct {
	LoadConfig func() (*config.ServiceConfig, error)
	NewClient  func(*config.ServiceConfig) (*client.Client, error)
}

// DefaultDeps returns the default dependencies for production use.
func DefaultDeps() *CommandDeps {
	return &CommandDeps{
		LoadConfig: config.Load,
		NewClient: func(cfg *config.ServiceConfig) (*client.Client, error) {
			return client.FromConfig(cfg.Client)
		},
	}
}

func (d *CommandDeps) orDefault() *CommandDeps {
	if d == nil {
		return DefaultDeps()
	}
	def := DefaultDeps()
	if d.LoadConfig == nil {
		d.LoadConfig = def.LoadConfig
	}
	if d.NewClient == nil {
		d.NewClient = def.NewClient
	}
	return d
}

// connect loads the configuration and builds an API client.
func (d *CommandDeps) connect() (*config.ServiceConfig, *client.Client, error) {
	cfg, err := d.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	c, err := d.NewClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating client: %w", err)
	}
	return cfg, c, nil
}

// resolveFormat prefers a command-level flag over the configured format.
func resolveFormat(cfg *config.ServiceConfig, flag string) (config.OutputFormat, error) {
	format := cfg.Client.OutputFormat
	if flag != "" {
		format = config.OutputFormat(flag)
	}
	if format == "" {
		format = config.OutputFormatText
	}
	if !format.IsValid() {
		return "", fmt.Errorf("invalid output format %q: must be text, json, or yaml", format)
	}
	return format, nil
}

// writeStructured encodes v as JSON or YAML. It reports false for text so the
// caller renders its own table.
func writeStructured(w io.Writer, format config.OutputFormat, v any) (bool, error) {
	switch format {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case config.OutputFormatYAML:
		// Round-trip through JSON so YAML keys match the API field names.
		data, err := json.Marshal(v)
		if err != nil {
			return true, err
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

// truncate shortens s to max runes with a trailing ellipsis.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// statusColor returns the ANSI color for a job status.
func statusColor(s minutes.Status) string {
	switch s {
	case minutes.StatusComplete:
		return "\033[32m"
	case minutes.StatusFailed:
		return "\033[31m"
	case minutes.StatusHITLPending, minutes.StatusCancelled:
		return "\033[33m"
	}
	return "\033[36m"
}

const colorReset = "\033[0m"
