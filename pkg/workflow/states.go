package workflow

// Pipeline states. A question enters at StateIntent and leaves at StateDone
// or StateError.
const (
	StateIntent      State = "INTENT"
	StateUnderstand  State = "UNDERSTAND"
	StateOrchestrate State = "ORCHESTRATE"
	StateConstruct   State = "CONSTRUCT"
	StateParameters  State = "PARAMETERS"
	StateExecute     State = "EXECUTE"
	StateRecover     State = "RECOVER"
	StateFormat      State = "FORMAT"
	StateDone        State = "DONE"
	StateError       State = "ERROR"
)

// ValidTransitions is the pipeline's transition table.
//
//nolint:gochecknoglobals // Static transition table
var ValidTransitions = TransitionTable{
	StateIntent:      {StateUnderstand, StateOrchestrate, StateError},
	StateUnderstand:  {StateOrchestrate, StateError},
	StateOrchestrate: {StateConstruct, StateParameters, StateExecute, StateUnderstand, StateError},
	StateConstruct:   {StateParameters, StateExecute, StateError},
	StateParameters:  {StateExecute, StateError},
	StateExecute:     {StateFormat, StateRecover, StateError},
	StateRecover:     {StateExecute, StateError},
	StateFormat:      {StateDone, StateError},
	StateDone:        {},
	StateError:       {},
}

// IsTerminal reports whether the state ends the run.
func IsTerminal(s State) bool {
	return s == StateDone || s == StateError
}
