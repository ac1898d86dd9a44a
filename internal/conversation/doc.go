// Package conversation owns conversation lifecycle and turn orchestration.
//
// # Overview
//
// The gateway loop hands every validated client envelope to a Service. The
// Service finds or creates the conversation, makes the sending connection its
// live peer, records caller identity and dispatches on the event type:
//
//   - user_message: cancel any running turn, emit status analyzing, start a
//     generation run
//   - action: only while WaitingAction; emit status processing_action and
//     resume the paused run with the decision mapped from the card action
//   - resume: replay stored events after the client's last sequence
//   - stop: cancel the running turn and emit done stopped
//
// Anything else produces a sequenced error event and leaves state alone.
//
// # States
//
// A conversation moves through Idle, Analyzing, Generating, CardReady,
// WaitingAction, ProcessingAction, Completed and Error. The transition
// function in state.go is the only place states change; Watch exposes every
// transition for observers and tests.
//
// # Generation runs
//
// Each conversation has at most one run. The run pulls items from the
// generator, cuts text into token events with a flush.Buffer, translates
// structured items and turns an interrupt into a confirm card. A run is
// cancelled cooperatively: once cancelled it emits nothing but its own
// terminal status, and buffered text is discarded unless the cancel policy is
// flush.
//
// # Locking
//
// Per conversation, dispatch serializes client events, mu guards state and
// the current run, and the emitter serializes sequencing and delivery. They
// are always taken in that order.
//
// # Lifecycle
//
// Conversations are evicted by Sweep after the idle timeout, never while a
// run is active. A recreated conversation continues its sequence from the
// replay store.
package conversation
