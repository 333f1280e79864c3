package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/germanamz/promptlab/pkg/modeladapter"
)

// failedCall turns a failed response into the command error.
func failedCall(resp modeladapter.ModelResponse) error {
	return fmt.Errorf("%s/%s: %s: %s", resp.Provider, resp.Model, resp.ErrorKind, resp.Error)
}

// responseFooter summarizes the target, latency and token usage of resp.
func responseFooter(resp modeladapter.ModelResponse) string {
	parts := []string{fmt.Sprintf("%s:%s", resp.Provider, resp.Model), fmtDuration(resp.ResponseTime)}
	if n := resp.TokensUsed(); n > 0 {
		parts = append(parts, fmtTokens(n)+" tokens")
	}
	return dimStyle.Render(strings.Join(parts, " · "))
}

// printResponse writes the content of a successful response followed by its
// footer, or an error block for a failed one.
func printResponse(w io.Writer, resp modeladapter.ModelResponse, render bool) {
	if !resp.Success {
		fmt.Fprintln(w, errorBlockStyle.Render(failStyle.Render(string(resp.ErrorKind))+" "+resp.Error))
		return
	}
	content := resp.Content
	if render {
		content = renderMarkdown(content, terminalWidth(w))
	}
	fmt.Fprintln(w, content)
	fmt.Fprintln(w, responseFooter(resp))
}

// addConfigFlags registers the generation parameter flags on cmd.
func addConfigFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64("temperature", 0, "sampling temperature (0-2)")
	f.Float64("top-p", 0, "nucleus sampling probability (0-1)")
	f.Int("top-k", 0, "top-k sampling cutoff")
	f.Int("max-tokens", 0, "maximum tokens to generate")
	f.String("system", "", "system prompt")
	f.StringSlice("stop", nil, "stop sequences")
}

// configFromFlags returns a config holding only the flags the user set, or
// nil when none were.
func configFromFlags(cmd *cobra.Command) *genconfig.GenerationConfig {
	f := cmd.Flags()
	var (
		cfg genconfig.GenerationConfig
		set bool
	)
	if f.Changed("temperature") {
		v, _ := f.GetFloat64("temperature")
		cfg.Temperature, set = genconfig.Some(v), true
	}
	if f.Changed("top-p") {
		v, _ := f.GetFloat64("top-p")
		cfg.TopP, set = genconfig.Some(v), true
	}
	if f.Changed("top-k") {
		v, _ := f.GetInt("top-k")
		cfg.TopK, set = genconfig.Some(v), true
	}
	if f.Changed("max-tokens") {
		v, _ := f.GetInt("max-tokens")
		cfg.MaxTokens, set = genconfig.Some(v), true
	}
	if f.Changed("system") {
		v, _ := f.GetString("system")
		cfg.SystemPrompt, set = genconfig.Some(v), true
	}
	if f.Changed("stop") {
		cfg.StopSequences, _ = f.GetStringSlice("stop")
		set = true
	}
	if !set {
		return nil
	}
	return &cfg
}
