// Package novel defines the structured types that LLM output is converted
// into before it re-enters the pipeline: the character cast, the ordered
// chapter/scene structure and the book content store.
//
// Parsing is strict about shape and lenient about vocabulary. Recognized
// character keys map to typed fields; anything else is quarantined in Extra
// and never serialized back into a prompt. Structure values that are neither
// a description string nor a nested object are quarantined by path.
package novel
