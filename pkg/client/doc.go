// Package client is the single entry point for model calls.
//
// A [Client] resolves a [Target] against its configured default, builds one
// adapter per "provider:model" key on first use and caches it for its
// lifetime. Remote failures come back inside the [modeladapter.ModelResponse];
// the returned error covers only validation and setup problems.
//
// [Retrying] adds bounded exponential backoff and an optional
// requests-per-minute window on top of any [Generator].
package client
