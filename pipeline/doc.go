// Package pipeline runs a complete novel generation: title and characters,
// then a plot or detailed structure, then prose for every section in
// structure order.
//
// All agents share one retry.Caller and therefore one token limiter, so the
// stages queue behind each other's spend rather than racing the provider's
// tokens-per-minute limit.
//
// Basic usage:
//
//	gen := pipeline.New(writer, pipeline.WithMemory(index), pipeline.WithLogger(logger))
//	result, err := gen.Run(ctx, pipeline.Request{
//	    Concept: "A cartographer maps a city that rearranges itself each night",
//	    Genre:   "Fantasy",
//	    Tone:    "Suspenseful",
//	}, func(ev pipeline.Event) error {
//	    if ev.Kind == llm.EventText && ev.Stage == pipeline.StageSection {
//	        fmt.Print(ev.Text)
//	    }
//	    return nil
//	})
//
// Events are delivered sequentially. Returning an error from the callback
// stops the run.
package pipeline
