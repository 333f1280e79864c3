package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/germanamz/promptlab/pkg/abtest"
	"github.com/germanamz/promptlab/pkg/client"
	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/germanamz/promptlab/pkg/optimizer"
	"github.com/germanamz/promptlab/pkg/providers/provider"
	"github.com/germanamz/promptlab/pkg/session"
)

// Lab bundles the services the tools call. Gen defaults to Client; pass a
// client.Retrying to retry transient failures. Session is optional and, when
// set, records optimizations and comparisons.
type Lab struct {
	Client    *client.Client
	Gen       client.Generator
	Optimizer *optimizer.Service
	ABTest    *abtest.Service
	Session   *session.Session
}

func (l Lab) gen() client.Generator {
	if l.Gen != nil {
		return l.Gen
	}
	return l.Client
}

// target resolves the optional provider and model names of a tool input.
func (l Lab) target(p, model string) (client.Target, error) {
	var t client.Target
	if p != "" {
		id, err := provider.Parse(p)
		if err != nil {
			return client.Target{}, err
		}
		t.Provider = id
	}
	t.Model = model
	return l.Client.Resolve(t)
}

type targetInput struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type generateInput struct {
	targetInput
	Prompt string                      `json:"prompt"`
	Config *genconfig.GenerationConfig `json:"config"`
}

type optimizeInput struct {
	targetInput
	Prompt             string `json:"prompt"`
	Type               string `json:"optimization_type"`
	CustomInstructions string `json:"custom_instructions"`
}

type compareInput struct {
	targetInput
	OriginalPrompt  string `json:"original_prompt"`
	OptimizedPrompt string `json:"optimized_prompt"`
	TestInput       string `json:"test_input"`
}

type listModelsInput struct {
	Provider string `json:"provider"`
}

const targetProps = `"provider":{"type":"string","description":"Provider name, e.g. ollama or deepseek. Defaults to the configured provider."},"model":{"type":"string","description":"Model name. Defaults to the provider's catalog default."}`

// tool is one callable operation of a Lab.
type tool struct {
	name        string
	description string
	schema      string
	run         func(ctx context.Context, input json.RawMessage) (string, error)
}

func (l Lab) tools() []tool {
	return []tool{
		{
			name:        "generate",
			description: "Send a single prompt to a model and return the normalized response.",
			schema:      `{"type":"object","properties":{"prompt":{"type":"string"},` + targetProps + `,"config":{"type":"object","description":"Generation parameters such as temperature, top_p and max_tokens."}},"required":["prompt"]}`,
			run:         l.handleGenerate,
		},
		{
			name:        "optimize_prompt",
			description: "Rewrite a prompt with an optimization strategy and report suggestions and metrics.",
			schema:      `{"type":"object","properties":{"prompt":{"type":"string"},"optimization_type":{"type":"string","enum":["general","structured","role_based","task_oriented","creative","logical"]},"custom_instructions":{"type":"string"},` + targetProps + `},"required":["prompt"]}`,
			run:         l.handleOptimize,
		},
		{
			name:        "compare_prompts",
			description: "Run an original and an optimized prompt on the same test input and compare the responses.",
			schema:      `{"type":"object","properties":{"original_prompt":{"type":"string"},"optimized_prompt":{"type":"string"},"test_input":{"type":"string"},` + targetProps + `},"required":["original_prompt","optimized_prompt","test_input"]}`,
			run:         l.handleCompare,
		},
		{
			name:        "list_models",
			description: "List models of one provider, or of every configured provider when none is given.",
			schema:      `{"type":"object","properties":{"provider":{"type":"string"}}}`,
			run:         l.handleListModels,
		},
		{
			name:        "check_connection",
			description: "Check whether a provider's backend is reachable.",
			schema:      `{"type":"object","properties":{` + targetProps + `}}`,
			run:         l.handleCheck,
		},
	}
}

func decode[T any](input json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(input, &v); err != nil {
		return v, fmt.Errorf("invalid input: %w", err)
	}
	return v, nil
}

func encode(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("mcpserver: encode result: %w", err)
	}
	return string(data), nil
}

func (l Lab) handleGenerate(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := decode[generateInput](input)
	if err != nil {
		return "", err
	}
	t, err := l.target(in.Provider, in.Model)
	if err != nil {
		return "", err
	}

	resp, err := l.gen().Generate(ctx, in.Prompt, t, in.Config)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("%s: %s", resp.ErrorKind, resp.Error)
	}
	return encode(resp)
}

func (l Lab) handleOptimize(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := decode[optimizeInput](input)
	if err != nil {
		return "", err
	}
	t, err := l.target(in.Provider, in.Model)
	if err != nil {
		return "", err
	}

	res, err := l.Optimizer.Optimize(ctx, optimizer.Request{
		OriginalPrompt:     in.Prompt,
		Type:               in.Type,
		Target:             t,
		CustomInstructions: in.CustomInstructions,
	})
	if err != nil {
		return "", err
	}
	if l.Session != nil {
		l.Session.AddOptimization(res)
	}
	if !res.Succeeded() {
		return "", fmt.Errorf("optimization failed: %s", res.Response.Error)
	}
	return encode(res)
}

func (l Lab) handleCompare(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := decode[compareInput](input)
	if err != nil {
		return "", err
	}
	t, err := l.target(in.Provider, in.Model)
	if err != nil {
		return "", err
	}

	res, err := l.ABTest.Compare(ctx, abtest.Request{
		OriginalPrompt:  in.OriginalPrompt,
		OptimizedPrompt: in.OptimizedPrompt,
		TestInput:       in.TestInput,
		Target:          t,
	})
	if err != nil {
		return "", err
	}
	if l.Session != nil {
		l.Session.AddTest(res)
	}
	// Partial failures are part of the comparison and stay in the result.
	return encode(res)
}

func (l Lab) handleListModels(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := decode[listModelsInput](input)
	if err != nil {
		return "", err
	}

	var p provider.ID
	if in.Provider != "" {
		if p, err = provider.Parse(in.Provider); err != nil {
			return "", err
		}
	}

	models, err := l.Client.AvailableModels(ctx, p)
	if err != nil {
		return "", err
	}
	return encode(models)
}

func (l Lab) handleCheck(ctx context.Context, input json.RawMessage) (string, error) {
	in, err := decode[targetInput](input)
	if err != nil {
		return "", err
	}
	t, err := l.target(in.Provider, in.Model)
	if err != nil {
		return "", err
	}
	return encode(l.Client.CheckConnection(ctx, t))
}
