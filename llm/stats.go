package llm

import (
	"fmt"
	"time"
)

// Statistics summarizes one or more completions.
type Statistics struct {
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	InputTime    time.Duration `json:"input_time"`
	OutputTime   time.Duration `json:"output_time"`
	TotalTime    time.Duration `json:"total_time"`
	Model        string        `json:"model"`
}

// StatisticsFrom builds statistics from a response. When the provider
// reports no total time, elapsed wall time is used.
func StatisticsFrom(resp *ChatResponse, model string, elapsed time.Duration) Statistics {
	if resp == nil {
		return Statistics{Model: model, TotalTime: elapsed}
	}
	s := Statistics{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		InputTime:    resp.Usage.InputTime,
		OutputTime:   resp.Usage.OutputTime,
		TotalTime:    resp.Usage.TotalTime,
		Model:        resp.Model,
	}
	if s.Model == "" {
		s.Model = model
	}
	if s.TotalTime == 0 {
		s.TotalTime = elapsed
	}
	return s
}

// TotalTokens returns input plus output tokens.
func (s Statistics) TotalTokens() int {
	return s.InputTokens + s.OutputTokens
}

// Add returns the sum of s and o. The model is kept when both agree.
func (s Statistics) Add(o Statistics) Statistics {
	model := s.Model
	switch {
	case model == "":
		model = o.Model
	case o.Model != "" && o.Model != model:
		model = "mixed"
	}
	return Statistics{
		InputTokens:  s.InputTokens + o.InputTokens,
		OutputTokens: s.OutputTokens + o.OutputTokens,
		InputTime:    s.InputTime + o.InputTime,
		OutputTime:   s.OutputTime + o.OutputTime,
		TotalTime:    s.TotalTime + o.TotalTime,
		Model:        model,
	}
}

// OutputSpeed returns output tokens per second, or zero.
func (s Statistics) OutputSpeed() float64 {
	if s.OutputTime <= 0 {
		return 0
	}
	return float64(s.OutputTokens) / s.OutputTime.Seconds()
}

func (s Statistics) String() string {
	return fmt.Sprintf("model=%s input=%d tokens (%.2fs) output=%d tokens (%.2fs, %.1f tok/s) total=%d tokens (%.2fs)",
		s.Model,
		s.InputTokens, s.InputTime.Seconds(),
		s.OutputTokens, s.OutputTime.Seconds(), s.OutputSpeed(),
		s.TotalTokens(), s.TotalTime.Seconds())
}
