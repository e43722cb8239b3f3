// Package agentsy is a client-side agent for OpenAI-compatible chat-completion endpoints
// that can call locally registered tools.
//
// # Overview
//
// An Agent owns a Conversation (the transcript) and a Registry (tools). Invoke sends the
// transcript, and while the model answers with tool calls it validates and runs them
// concurrently, appends the assistant message and the tool results, and asks again until
// the model answers without tool calls or the round budget is spent.
//
// Pipeline: ToolDefinition + Handler → Registry.Register (schema compiled once) →
// Agent.Invoke → chat request → assistant message → Registry.Call (validate, run) →
// tool messages → next round.
//
// # Streaming
//
// InvokeStream reads a server-sent event body. Frames may be split anywhere by the
// network, and a JSON object may be split across frames by the server; fragments are
// buffered until they parse. Deltas are merged per field: content, reasoning and
// tool-call arguments are concatenated, tool calls are keyed by their index.
//
// # Cancellation
//
// Starting an invocation cancels the previous one, and Abort cancels the active one.
// Cancellation is not an error: the result has Canceled set and nothing from the
// interrupted round is appended to the transcript.
//
// # Sessions
//
// A Session ties an Agent to a Renderer and a Store: Send streams one user turn into a
// loading placeholder and persists every message the turn added. MemoryStore keeps
// sessions in memory; packages sqlitestore and redisstore persist them.
//
// # Example
//
//	agent, err := agentsy.New(agentsy.Config{
//	    Model: "gpt-4o-mini",
//	    URL:   "https://api.openai.com/v1/chat/completions",
//	}, agentsy.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
//	if err != nil { ... }
//	err = agent.Register(agentsy.ToolDefinition{
//	    Name:        "weather",
//	    Description: "Current weather for a city",
//	    Parameters:  agentsy.Object(map[string]*agentsy.Schema{"city": agentsy.String("City name")}, "city"),
//	}, func(_ context.Context, args json.RawMessage) (string, error) {
//	    return `{"temp":22.5}`, nil
//	})
//	agent.PushMessage(agentsy.UserMessage("Weather in Oslo?"))
//	res, err := agent.Invoke(ctx, agentsy.InvokeOptions{Tools: []string{"weather"}})
package agentsy
