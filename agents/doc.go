// Package agents builds the prompts for each generation stage and runs them
// through a retry.Caller.
//
// Structured agents (title, characters, plot, novel structure, character
// arcs) return llm.Statistics with a parsed payload. Prose agents (section,
// novel section) stream llm.Event values to the caller.
package agents
