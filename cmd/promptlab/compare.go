package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/germanamz/promptlab/pkg/abtest"
	"github.com/germanamz/promptlab/pkg/modeladapter"
)

func newCompareCmd(c *cli) *cobra.Command {
	var (
		original, optimized, input string
		render                     bool
	)

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "A/B test two prompts on the same input",
		Long:  "Run the original and optimized prompts, each followed by the test input, concurrently against one model and compare latency, length and token usage. Values starting with @ are read from files.",
		Example: "  promptlab compare --original \"写诗\" --optimized \"你是诗人，写一首七言绝句\" --input \"主题：秋天\"\n" +
			"  promptlab compare --original @a.txt --optimized @b.txt --input @case.txt --json",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			for _, v := range []*string{&original, &optimized, &input} {
				if *v, err = readValue(*v); err != nil {
					return err
				}
			}

			t, err := c.app.target(c.provider, c.model)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			req := abtest.Request{
				OriginalPrompt:  original,
				OptimizedPrompt: optimized,
				TestInput:       input,
				Target:          t,
				Config:          configFromFlags(cmd),
			}
			res, err := withSpinner(cmd.Context(), out, "comparing on "+t.String(), func(ctx context.Context) (abtest.Result, error) {
				return c.app.abtest.Compare(ctx, req)
			})
			if err != nil {
				return err
			}
			c.app.session.AddTest(res)

			if c.jsonOut {
				return printJSON(out, res)
			}
			printComparison(out, res, render)
			if !res.Original.Success && !res.Optimized.Success {
				return fmt.Errorf("comparison failed: %s", res.Error)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&original, "original", "", "original prompt, or @file")
	f.StringVar(&optimized, "optimized", "", "optimized prompt, or @file")
	f.StringVar(&input, "input", "", "test input appended to both prompts, or @file")
	f.BoolVar(&render, "render", false, "render responses as markdown")
	_ = cmd.MarkFlagRequired("original")
	_ = cmd.MarkFlagRequired("optimized")
	_ = cmd.MarkFlagRequired("input")
	addConfigFlags(cmd)

	return cmd
}

// readValue returns v, or the contents of the file it names when it starts
// with @.
func readValue(v string) (string, error) {
	path, ok := strings.CutPrefix(v, "@")
	if !ok {
		return v, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// printComparison lays the two responses out side by side followed by the
// comparison metrics.
func printComparison(w io.Writer, res abtest.Result, render bool) {
	width := terminalWidth(w)
	col := max((width-3)/2, 20)

	column := func(title string, resp modeladapter.ModelResponse) string {
		var body string
		switch {
		case !resp.Success:
			body = failStyle.Render(string(resp.ErrorKind) + ": " + resp.Error)
		case render:
			body = renderMarkdown(resp.Content, col-2)
		default:
			body = resp.Content
		}
		return lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render(title),
			lipgloss.NewStyle().Width(col).Render(body),
			responseFooter(resp),
		)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top,
		column("Original", res.Original),
		dimStyle.Render(" │ "),
		column("Optimized", res.Optimized),
	))

	m := res.Metrics
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Comparison"))
	fmt.Fprintf(w, "  %s %+.2fs\n", labelStyle.Render(padRight("time", 9)), m.TimeDifference)
	fmt.Fprintf(w, "  %s %+d\n", labelStyle.Render(padRight("length", 9)), m.LengthDifference)
	fmt.Fprintf(w, "  %s %.0f%%\n", labelStyle.Render(padRight("ratio", 9)), m.QualityRatio)
	if m.OriginalTokens != nil && m.OptimizedTokens != nil {
		fmt.Fprintf(w, "  %s %s → %s\n", labelStyle.Render(padRight("tokens", 9)), fmtTokens(*m.OriginalTokens), fmtTokens(*m.OptimizedTokens))
	}
	if res.Error != "" {
		fmt.Fprintln(w, warnStyle.Render("  "+res.Error))
	}
}
