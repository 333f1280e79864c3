// Package providers groups the backend-specific adapters.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/promptlab/pkg/providers/provider]: the provider identity enum and its families
//   - [github.com/germanamz/promptlab/pkg/providers/ollama]: local inference daemon (REST dialect under /api)
//   - [github.com/germanamz/promptlab/pkg/providers/openai]: any backend speaking the Chat Completions wire shape
//   - [github.com/germanamz/promptlab/pkg/providers/anthropic]: the Messages API
//
// Shared HTTP plumbing lives in [github.com/germanamz/promptlab/pkg/modeladapter];
// adapters compose it rather than inherit from it.
package providers
