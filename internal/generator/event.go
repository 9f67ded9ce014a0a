package generator

// Event types reported while a query runs.
const (
	EventModelCall  = "model_call"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventAnswer     = "answer"
)

// Event describes one step of the orchestration loop.
type Event struct {
	Type   string `json:"type"`
	Round  int    `json:"round"`
	Tool   string `json:"tool,omitempty"`
	CallID string `json:"callId,omitempty"`
	// Tools reports whether tool definitions were attached to a model call.
	Tools  bool   `json:"tools,omitempty"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
	Text   string `json:"text,omitempty"`
}

// Observer receives loop events. It is called synchronously from the
// goroutine running the query.
type Observer func(Event)

func (o Observer) emit(e Event) {
	if o != nil {
		o(e)
	}
}
