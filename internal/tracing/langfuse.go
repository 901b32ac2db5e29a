// Package tracing wires optional Langfuse observability into the LLM call
// path. Every QA generation shows up as a trace with its prompt, retrieved
// context, and token usage.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// defaultHost is used when LANGFUSE_HOST is unset (self-hosted default port).
const defaultHost = "http://localhost:3000"

// Setup initialises the Langfuse callback handler when both
// LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY are set. The returned flush
// function must run before process exit so buffered traces are sent. When
// keys are absent the third return value is false and tracing is disabled.
func Setup() (callbacks.Handler, func(), bool) {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return nil, nil, false
	}

	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = defaultHost
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
	})
	return handler, flusher, true
}
