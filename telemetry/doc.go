// Package telemetry traces generation runs with OpenTelemetry.
//
// A run produces one root span with a child per stage and, below each
// stage, one client span per provider call:
//
//	bookshelf.run
//	├── stage.title
//	│   └── llm.chat
//	├── stage.characters
//	│   └── llm.chat
//	├── stage.plot
//	│   └── llm.chat
//	└── stage.section  (stage.section = "Act I > Arrival")
//	    └── llm.stream
//
// Spans are exported over OTLP (grpc or http) when an endpoint is
// configured:
//
//	p, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
//	    Endpoint: "localhost:4317",
//	    Insecure: true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer p.Shutdown(context.Background())
//	tracer := p.Tracer()
//
// Without an endpoint, Noop returns a tracer that records nothing.
// Prompts and prose are only attached to spans in debug mode.
package telemetry
