// ABOUTME: Conversation states and the exhaustive transition function between them
// ABOUTME: Client events and generation-stream events are both expressed as triggers

package conversation

import "fmt"

// State is the authoritative status of a conversation.
type State int

const (
	Idle State = iota
	WaitingInput
	Analyzing
	Generating
	CardReady
	WaitingAction
	ProcessingAction
	Completed
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case WaitingInput:
		return "WaitingInput"
	case Analyzing:
		return "Analyzing"
	case Generating:
		return "Generating"
	case CardReady:
		return "CardReady"
	case WaitingAction:
		return "WaitingAction"
	case ProcessingAction:
		return "ProcessingAction"
	case Completed:
		return "Completed"
	case Error:
		return "Error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// trigger is anything that can move a conversation between states.
type trigger int

const (
	trigUserMessage trigger = iota // client sent user_message
	trigAction                     // client answered a card
	trigStop                       // client sent stop
	trigGenerate                   // a generation run starts
	trigInterrupt                  // run paused for a decision
	trigCardShown                  // card delivered, awaiting the answer
	trigExhausted                  // run produced its last item
	trigCancelled                  // run was cancelled
	trigFailed                     // run failed
)

func (t trigger) String() string {
	switch t {
	case trigUserMessage:
		return "user_message"
	case trigAction:
		return "action"
	case trigStop:
		return "stop"
	case trigGenerate:
		return "generate"
	case trigInterrupt:
		return "interrupt"
	case trigCardShown:
		return "card_shown"
	case trigExhausted:
		return "exhausted"
	case trigCancelled:
		return "cancelled"
	case trigFailed:
		return "failed"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

// next returns the state reached from "from" on t, and false when t is not
// allowed in "from". Completed and Error accept a new user_message like any
// other state.
func next(from State, t trigger) (State, bool) {
	switch t {
	case trigUserMessage:
		return Analyzing, true
	case trigStop:
		return Completed, true
	case trigAction:
		if from == WaitingAction {
			return ProcessingAction, true
		}
	case trigGenerate:
		if from == Analyzing || from == ProcessingAction {
			return Generating, true
		}
	case trigInterrupt:
		if from == Generating {
			return CardReady, true
		}
	case trigCardShown:
		if from == CardReady {
			return WaitingAction, true
		}
	case trigExhausted:
		if from == Generating {
			return Completed, true
		}
	case trigCancelled:
		return Completed, true
	case trigFailed:
		return Error, true
	}
	return from, false
}
