package events

const (
	// KindFunctionCallCompleted identifies a fully assembled invocation.
	KindFunctionCallCompleted Kind = "function_call.completed"
	// KindFunctionCallParseFailed identifies an unparseable invocation.
	KindFunctionCallParseFailed Kind = "function_call.parse_failed"
)

// FunctionCallCompleted carries a complete invocation with parsed arguments.
type FunctionCallCompleted struct {
	Base
	CallID string
	Name   string
	Args   map[string]any
}

// NewFunctionCallCompleted creates a completed invocation event.
func NewFunctionCallCompleted(callID, name string, args map[string]any) FunctionCallCompleted {
	return FunctionCallCompleted{Base: NewBase(KindFunctionCallCompleted), CallID: callID, Name: name, Args: args}
}

// FunctionCallParseFailed carries the raw accumulator of an invocation whose
// terminal event arrived with arguments that were not valid JSON.
type FunctionCallParseFailed struct {
	Base
	CallID  string
	Name    string
	RawArgs string
	Err     error
}

// NewFunctionCallParseFailed creates a parse failure event.
func NewFunctionCallParseFailed(callID, name, rawArgs string, err error) FunctionCallParseFailed {
	return FunctionCallParseFailed{Base: NewBase(KindFunctionCallParseFailed), CallID: callID, Name: name, RawArgs: rawArgs, Err: err}
}
