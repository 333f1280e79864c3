package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/germanamz/promptlab/pkg/settings"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// annotationFullLogs marks long-running commands that log at the configured
// level. Other commands only log warnings unless --verbose is set.
const annotationFullLogs = "promptlab/full-logs"

// cli carries the persistent flag values and the app built from them.
type cli struct {
	configPath string
	envFile    string
	logLevel   string
	provider   string
	model      string
	jsonOut    bool
	verbose    bool

	app *app
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "promptlab",
		Short:         "Prompt optimization and A/B testing against many LLM providers",
		Long:          "promptlab rewrites prompts with model-backed optimization strategies, compares original and optimized prompts side by side, and serves the same operations over HTTP and MCP.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.configPath, "config", "c", "", "path to a YAML, JSON or TOML config file")
	pf.StringVar(&c.envFile, "env", ".env", "dotenv file loaded before reading the environment")
	pf.StringVar(&c.logLevel, "log-level", "", "log level: debug|info|warn|error (defaults LOG_LEVEL or info)")
	pf.StringVarP(&c.provider, "provider", "p", "", "provider for this call (defaults DEFAULT_PROVIDER)")
	pf.StringVarP(&c.model, "model", "m", "", "model for this call (defaults to the provider's catalog default)")
	pf.BoolVar(&c.jsonOut, "json", false, "print results as JSON")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "log at the configured level")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return c.setup(cmd)
	}

	root.AddCommand(
		newServeCmd(c),
		newMCPCmd(c),
		newGenerateCmd(c),
		newChatCmd(c),
		newOptimizeCmd(c),
		newCompareCmd(c),
		newModelsCmd(c),
		newProvidersCmd(c),
		newCheckCmd(c),
		newTemplatesCmd(c),
	)

	return root
}

// setup loads the dotenv file and settings, then builds the logger and app.
func (c *cli) setup(cmd *cobra.Command) error {
	if err := loadDotEnv(c.envFile); err != nil {
		return fmt.Errorf("load %s: %w", c.envFile, err)
	}

	s, err := settings.Load(c.configPath, os.LookupEnv)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		s.LogLevel = c.logLevel
	}

	log, err := newLogger(cmd.ErrOrStderr(), s.LogLevel)
	if err != nil {
		return fmt.Errorf("log level %q: %w", s.LogLevel, err)
	}
	if !c.verbose && cmd.Annotations[annotationFullLogs] == "" && log.GetLevel() < zerolog.WarnLevel {
		log = log.Level(zerolog.WarnLevel)
	}

	a, err := newApp(s, log)
	if err != nil {
		return err
	}
	c.app = a

	return nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
