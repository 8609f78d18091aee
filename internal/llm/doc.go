// Package llm provides the chat completion abstraction agents talk to. It
// supports tool calling and JSON responses against OpenAI-compatible
// backends, with rate limiting and retry of transient failures.
package llm
