package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/germanamz/promptlab/pkg/abtest"
	"github.com/germanamz/promptlab/pkg/optimizer"
)

type optimizeOptions struct {
	typ          string
	instructions string
	interactive  bool
	diff         bool
	render       bool
	testInput    string
}

func newOptimizeCmd(c *cli) *cobra.Command {
	var o optimizeOptions

	cmd := &cobra.Command{
		Use:   "optimize [prompt]",
		Short: "Rewrite a prompt with an optimization strategy",
		Long:  "Rewrite a prompt using one of the optimization strategies and report suggestions and heuristic scores. With --test-input the original and optimized prompts are then compared on that input.",
		Example: "  promptlab optimize -t logical \"写一篇关于递归的文章\"\n" +
			"  promptlab optimize -i\n" +
			"  promptlab optimize --diff --test-input \"n=5\" \"计算阶乘\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			var (
				prompt string
				err    error
			)
			p := c.provider
			if o.interactive {
				prompt, err = c.askOptimize(ctx, strings.Join(args, " "), &o, &p)
			} else {
				prompt, err = readPrompt(args, cmd.InOrStdin())
			}
			if err != nil {
				return err
			}

			t, err := c.app.target(p, c.model)
			if err != nil {
				return err
			}

			req := optimizer.Request{
				OriginalPrompt:     prompt,
				Type:               o.typ,
				Target:             t,
				Config:             configFromFlags(cmd),
				CustomInstructions: o.instructions,
			}
			if err := c.app.optimizer.Validate(req); err != nil {
				return err
			}

			res, err := withSpinner(ctx, out, "optimizing with "+t.String(), func(ctx context.Context) (optimizer.Result, error) {
				return c.app.optimizer.Optimize(ctx, req)
			})
			if err != nil {
				return err
			}
			c.app.session.AddOptimization(res)

			var ab *abtest.Result
			if o.testInput != "" && res.Succeeded() {
				r, err := withSpinner(ctx, out, "comparing on test input", func(ctx context.Context) (abtest.Result, error) {
					return c.app.abtest.Compare(ctx, abtest.Request{
						OriginalPrompt:  prompt,
						OptimizedPrompt: res.OptimizedPrompt,
						TestInput:       o.testInput,
						Target:          t,
						Config:          req.Config,
					})
				})
				if err != nil {
					return err
				}
				c.app.session.AddTest(r)
				ab = &r
			}

			if c.jsonOut {
				return printJSON(out, struct {
					Optimization optimizer.Result `json:"optimization"`
					ABTest       *abtest.Result   `json:"ab_test,omitempty"`
				}{res, ab})
			}

			if !res.Succeeded() {
				printResponse(out, res.Response, false)
				return failedCall(res.Response)
			}
			if err := printOptimization(out, res, o); err != nil {
				return err
			}
			if ab != nil {
				printComparison(out, *ab, o.render)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.typ, "type", "t", optimizer.DefaultType, "optimization strategy, one of the optimization templates")
	f.StringVar(&o.instructions, "instructions", "", "extra instructions appended to the optimization template")
	f.BoolVarP(&o.interactive, "interactive", "i", false, "choose the strategy and provider in a form")
	f.BoolVar(&o.diff, "diff", false, "show a unified diff between the original and optimized prompt")
	f.BoolVar(&o.render, "render", false, "render the optimized prompt as markdown")
	f.StringVar(&o.testInput, "test-input", "", "compare original and optimized prompts on this input")
	addConfigFlags(cmd)

	return cmd
}

// askOptimize collects the strategy, provider and prompt in a form. The
// prompt field is prefilled with prompt.
func (c *cli) askOptimize(ctx context.Context, prompt string, o *optimizeOptions, p *string) (string, error) {
	var typeOpts []huh.Option[string]
	for _, ti := range c.app.optimizer.Types() {
		typeOpts = append(typeOpts, huh.NewOption(strings.TrimSpace(ti.Icon+" "+ti.Name), ti.Key))
	}

	var providerOpts []huh.Option[string]
	for _, id := range c.app.client.AvailableProviders() {
		providerOpts = append(providerOpts, huh.NewOption(id.DisplayName(), string(id)))
	}
	if len(providerOpts) == 0 {
		return "", errors.New("no provider is configured; set an API key or a local base URL")
	}
	if *p == "" {
		*p = string(c.app.client.DefaultTarget().Provider)
	}

	if err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Optimization strategy").
			Options(typeOpts...).
			Value(&o.typ),
		huh.NewSelect[string]().
			Title("Provider").
			Options(providerOpts...).
			Value(p),
		huh.NewText().
			Title("Prompt").
			Value(&prompt),
		huh.NewInput().
			Title("Extra instructions (optional)").
			Value(&o.instructions),
	)).RunWithContext(ctx); err != nil {
		return "", err
	}

	return strings.TrimSpace(prompt), nil
}

func printOptimization(w io.Writer, res optimizer.Result, o optimizeOptions) error {
	fmt.Fprintln(w, titleStyle.Render("Optimized prompt")+dimStyle.Render(" ("+res.TemplateUsed+")"))
	body := res.OptimizedPrompt
	if o.render {
		body = renderMarkdown(body, terminalWidth(w))
	}
	fmt.Fprintln(w, promptBlockStyle.Render(body))

	if o.diff {
		d, err := optimizer.Diff(res.Request.OriginalPrompt, res.OptimizedPrompt)
		if err != nil {
			return err
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Diff"))
		for _, line := range strings.Split(strings.TrimRight(d, "\n"), "\n") {
			switch {
			case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
				line = okStyle.Render(line)
			case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
				line = failStyle.Render(line)
			default:
				line = dimStyle.Render(line)
			}
			fmt.Fprintln(w, line)
		}
	}

	if len(res.Suggestions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Suggestions"))
		for i, s := range res.Suggestions {
			branch := treeTee
			if i == len(res.Suggestions)-1 {
				branch = treeCorner
			}
			fmt.Fprintln(w, dimStyle.Render(branch)+s)
		}
	}

	if m := res.Metrics; m != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Scores"))
		rows := []struct {
			label string
			value float64
		}{
			{"structure", m.StructureScore},
			{"detail", m.DetailScore},
			{"professional", m.ProfessionalScore},
			{"overall", m.OverallImprovement},
		}
		for _, r := range rows {
			fmt.Fprintf(w, "  %s %.1f\n", labelStyle.Render(padRight(r.label, 13)), r.value)
		}
		fmt.Fprintf(w, "  %s %+.0f%%\n", labelStyle.Render(padRight("length", 13)), m.LengthImprovement)
	}

	fmt.Fprintln(w, responseFooter(res.Response))
	return nil
}
