package main

import (
	"github.com/spf13/cobra"

	"github.com/germanamz/promptlab/pkg/mcpserver"
)

func newMCPCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:         "mcp",
		Short:       "Serve the tools over MCP on stdin/stdout",
		Long:        "Expose generate, optimize_prompt, compare_prompts, list_models and check_connection as Model Context Protocol tools over stdio. Logs go to stderr.",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationFullLogs: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv := mcpserver.New(c.app.lab(), version,
				mcpserver.WithLogger(c.app.log.With().Str("component", "mcp").Logger()),
			)

			c.app.log.Info().Msg("serving MCP on stdio")
			return srv.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
