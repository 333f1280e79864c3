package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/germanamz/promptlab/pkg/chats/message"
	"github.com/germanamz/promptlab/pkg/modeladapter"
)

func newGenerateCmd(c *cli) *cobra.Command {
	var render bool

	cmd := &cobra.Command{
		Use:     "generate [prompt]",
		Aliases: []string{"gen"},
		Short:   "Send one prompt to a model",
		Long:    "Send one prompt to a model and print the completion. The prompt is read from stdin when no argument or \"-\" is given.",
		Example: "  promptlab generate -p ollama -m qwen2.5:latest \"解释递归\"\n  echo \"hello\" | promptlab generate --json",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			t, err := c.app.target(c.provider, c.model)
			if err != nil {
				return err
			}
			cfg := configFromFlags(cmd)

			out := cmd.OutOrStdout()
			resp, err := withSpinner(cmd.Context(), out, t.String(), func(ctx context.Context) (modeladapter.ModelResponse, error) {
				return c.app.gen.Generate(ctx, prompt, t, cfg)
			})
			if err != nil {
				return err
			}

			if c.jsonOut {
				if err := printJSON(out, resp); err != nil {
					return err
				}
			} else {
				printResponse(out, resp, render)
			}
			if !resp.Success {
				return failedCall(resp)
			}
			return nil
		},
	}

	addConfigFlags(cmd)
	cmd.Flags().BoolVar(&render, "render", false, "render the completion as markdown")

	return cmd
}

func newChatCmd(c *cli) *cobra.Command {
	var render bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Hold a multi-turn conversation with a model",
		Long:  "Read one user message per line from stdin and print each reply. The conversation history is resent on every turn. Type /reset to forget it and /exit to quit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := c.app.target(c.provider, c.model)
			if err != nil {
				return err
			}
			cfg := configFromFlags(cmd)

			out := cmd.OutOrStdout()
			interactive := isTerminal(out)
			if interactive {
				fmt.Fprintln(out, titleStyle.Render("chatting with "+t.String())+dimStyle.Render("  (/reset, /exit)"))
			}

			var history []message.Message
			sc := bufio.NewScanner(cmd.InOrStdin())
			sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for {
				if interactive {
					fmt.Fprint(out, labelStyle.Render("› "))
				}
				if !sc.Scan() {
					break
				}

				line := strings.TrimSpace(sc.Text())
				switch line {
				case "":
					continue
				case "/exit", "/quit":
					return nil
				case "/reset":
					history = history[:0]
					fmt.Fprintln(out, dimStyle.Render("history cleared"))
					continue
				}

				msgs := append(history, message.User(line))
				resp, err := withSpinner(cmd.Context(), out, "", func(ctx context.Context) (modeladapter.ModelResponse, error) {
					return c.app.gen.Chat(ctx, msgs, t, cfg)
				})
				if err != nil {
					return err
				}

				if c.jsonOut {
					if err := printJSON(out, resp); err != nil {
						return err
					}
				} else {
					printResponse(out, resp, render)
				}
				if resp.Success {
					history = append(msgs, message.Assistant(resp.Content))
				}
			}

			return sc.Err()
		},
	}

	addConfigFlags(cmd)
	cmd.Flags().BoolVar(&render, "render", false, "render replies as markdown")

	return cmd
}
