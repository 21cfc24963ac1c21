// Package agent runs the model sampling loop for one session turn.
//
// A Loop takes the full conversation, calls the provider until the model
// stops asking for tools, executes local tools in between, and returns the
// extended conversation. Intermediate steps are reported through Callbacks as
// they happen.
//
// Invariants:
// - Run never mutates the history it is given; it returns a new slice whose
//   prefix equals the input.
// - Callbacks are invoked from the goroutine calling Run, in the order the
//   steps happen.
// - A provider or transport failure aborts the run with an error; tool
//   failures are reported back to the model as error tool results.
//
// Usage:
//
//	loop := agent.NewRouter(agent.RouterConfig{Anthropic: agent.NewAnthropicLoop(agent.LoopConfig{})})
//	turns, err := loop.Run(ctx, agent.Request{Options: opts, APIKey: key, History: history}, agent.Callbacks{
//		OnBlock: func(b session.ContentBlock) { ... },
//	})
package agent
