// Package modeladapter defines the provider-neutral adapter contract and the
// shared plumbing concrete adapters embed.
//
// It contains:
//   - [Adapter] capability interface and the [Go] async helper
//   - [ModelAdapter] embeddable base with HTTP helpers, auth, custom headers, timeouts and config resolution
//   - [ModelResponse], [ConnectionStatus] and [ModelInfo] result types
//   - [FailureKind] classification of transport and protocol errors via [Classify] and [Describe]
//   - [TokenEstimator] for backends that omit usage
//   - [github.com/germanamz/promptlab/pkg/modeladapter/usage] thread-safe call statistics
//
// Remote failures are values: a failed generate or chat call yields a
// ModelResponse with Success == false. This package contains no
// provider-specific code; concrete adapters live under pkg/providers.
package modeladapter
