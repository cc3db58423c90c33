// Package provider turns Eino chat models into assistant messages.
//
// A Provider serves a catalog of models for one API family: Anthropic
// (claude), OpenAI and OpenAI-compatible servers, and Volcengine ARK. The
// Registry collects providers, resolves "provider/model" references and
// hands out a StreamFunc that the agent engine calls once per model turn.
//
// # Streaming
//
// Stream consumes Eino message chunks as deltas and reports every step to a
// Sink:
//
//	start
//	text_start, text_delta..., text_end
//	thinking_start, thinking_delta..., thinking_end
//	toolcall_start, toolcall_delta..., toolcall_end
//	done | error
//
// Failures never surface as Go errors. A failed call returns a message with
// StopReason "error" and the provider's error text; a cancelled context
// returns StopReason "aborted" with ErrorMessage "Request was aborted" and
// whatever content had arrived.
//
// # Credentials
//
// Credentials resolves API keys from a runtime override, auth.json in the
// agent directory, settings and finally the provider's environment variable
// (ANTHROPIC_API_KEY, OPENAI_API_KEY, ARK_API_KEY).
//
// # Retries
//
// Retry re-runs a model call whose error looks transient (overload, rate
// limit, 5xx, connection resets) with exponential backoff.
package provider
