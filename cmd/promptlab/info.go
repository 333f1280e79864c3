package main

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/spf13/cobra"

	"github.com/germanamz/promptlab/pkg/apperr"
	"github.com/germanamz/promptlab/pkg/client"
	"github.com/germanamz/promptlab/pkg/modeladapter"
	"github.com/germanamz/promptlab/pkg/providers/provider"
	"github.com/germanamz/promptlab/pkg/templates"
)

func newModelsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models of the configured providers",
		Long:  "List models reported by each backend, falling back to the built-in catalog. With --provider only that provider is queried.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var p provider.ID
			if c.provider != "" {
				id, err := provider.Parse(c.provider)
				if err != nil {
					return err
				}
				p = id
			}

			out := cmd.OutOrStdout()
			models, err := withSpinner(cmd.Context(), out, "listing models", func(ctx context.Context) ([]modeladapter.ModelInfo, error) {
				return c.app.client.AvailableModels(ctx, p)
			})
			if err != nil {
				return err
			}

			if c.jsonOut {
				return printJSON(out, models)
			}
			for _, m := range models {
				mark := okStyle.Render("●")
				if !m.Available {
					mark = dimStyle.Render("○")
				}
				fmt.Fprintf(out, "%s %s %s %s\n", mark,
					padRight(string(m.Provider), 10),
					padRight(truncate(m.Name, 36), 36),
					dimStyle.Render(truncate(m.Description, 50)))
			}
			return nil
		},
	}
}

func newProvidersCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show which providers are configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			type row struct {
				ID         provider.ID `json:"id"`
				Name       string      `json:"name"`
				Configured bool        `json:"configured"`
				BaseURL    string      `json:"base_url"`
				Default    bool        `json:"default"`
			}

			def := c.app.client.DefaultTarget()
			s := c.app.settings
			var rows []row
			for _, id := range provider.All() {
				rows = append(rows, row{
					ID:         id,
					Name:       id.DisplayName(),
					Configured: s.Available(id),
					BaseURL:    s.Provider(id).BaseURL,
					Default:    id == def.Provider,
				})
			}

			out := cmd.OutOrStdout()
			if c.jsonOut {
				return printJSON(out, rows)
			}
			for _, r := range rows {
				mark := okStyle.Render("✓")
				if !r.Configured {
					mark = dimStyle.Render("·")
				}
				name := padRight(r.Name, 16)
				if r.Default {
					name = labelStyle.Render(name)
				}
				fmt.Fprintf(out, "%s %s %s\n", mark, name, dimStyle.Render(r.BaseURL))
			}
			return nil
		},
	}
}

func newCheckCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check [provider...]",
		Short: "Check provider connectivity",
		Long:  "Check the connection to each named provider, or to every configured provider when none is named. The default model is used unless --model is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []provider.ID
			for _, a := range args {
				id, err := provider.Parse(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			if len(ids) == 0 && c.provider != "" {
				id, err := provider.Parse(c.provider)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			if len(ids) == 0 {
				ids = c.app.client.AvailableProviders()
			}

			out := cmd.OutOrStdout()
			statuses, err := withSpinner(cmd.Context(), out, "checking connections", func(ctx context.Context) ([]modeladapter.ConnectionStatus, error) {
				return checkAll(ctx, c.app.client, ids, c.model), nil
			})
			if err != nil {
				return err
			}

			if c.jsonOut {
				return printJSON(out, statuses)
			}
			failed := 0
			for _, st := range statuses {
				mark := okStyle.Render("✓")
				if !st.Connected {
					mark = failStyle.Render("✗")
					failed++
				}
				fmt.Fprintf(out, "%s %s %s %s\n", mark, padRight(st.Provider.DisplayName(), 16), st.Message, dimStyle.Render(fmtDuration(st.ResponseTime)))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d providers unreachable", failed, len(statuses))
			}
			return nil
		},
	}
}

// checkAll checks every provider concurrently and returns the statuses in
// the order of ids.
func checkAll(ctx context.Context, c *client.Client, ids []provider.ID, model string) []modeladapter.ConnectionStatus {
	out := make([]modeladapter.ConnectionStatus, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Go(func() {
			out[i] = c.CheckConnection(ctx, client.Target{Provider: id, Model: model})
		})
	}
	wg.Wait()
	return out
}

func newTemplatesCmd(c *cli) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List the prompt templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cats := templates.Categories()
			if category != "" {
				cat := templates.Category(category)
				if !slices.Contains(cats, cat) {
					return apperr.Validation("category", "unknown category %q", category)
				}
				cats = []templates.Category{cat}
			}

			out := cmd.OutOrStdout()
			all := make(map[templates.Category][]templates.TypeInfo, len(cats))
			for _, cat := range cats {
				all[cat] = c.app.templates.Types(cat)
			}
			if c.jsonOut {
				return printJSON(out, all)
			}

			for _, cat := range cats {
				fmt.Fprintln(out, titleStyle.Render(cat.String()))
				for _, t := range all[cat] {
					fmt.Fprintf(out, "  %s %s %s\n", padRight(t.Icon, 2), padRight(t.Key, 14), dimStyle.Render(truncate(t.Description, 60)))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only list one category: optimization|evaluation|testing")

	show := &cobra.Command{
		Use:     "show <category/type>",
		Short:   "Render one template",
		Example: "  promptlab templates show optimization/logical --prompt \"解释递归\"",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, _ := cmd.Flags().GetString("prompt")
			text, err := c.app.templates.Get(args[0], templates.Context{
				OriginalPrompt: prompt,
				TestContent:    prompt,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	show.Flags().String("prompt", "", "prompt substituted into the template")
	cmd.AddCommand(show)

	return cmd
}
