// ABOUTME: Card catalog for generator interrupts and the action-to-decision mapping
// ABOUTME: The layer that builds a card is the one that decides what its actions mean

package conversation

import "github.com/2389/converse-gateway/internal/envelope"

// Confirm card action ids
const (
	ActionConfirm = "confirm"
	ActionCancel  = "cancel"
)

// Decisions handed back to the generator
const (
	DecisionYes = "Yes"
	DecisionNo  = "No"
)

// ConfirmCard presents an interrupt question as a confirm/cancel choice.
func ConfirmCard(question string) *envelope.Card {
	return &envelope.Card{
		Title: "Confirm Action",
		Sections: []envelope.CardSection{
			{Kind: "note", Data: map[string]any{"text": question}},
		},
		Actions: []envelope.CardAction{
			{ID: ActionConfirm, Label: "Confirm", Style: "primary"},
			{ID: ActionCancel, Label: "Cancel", Style: "secondary"},
		},
	}
}

// decisionFor maps a card action id to the generator's resume token.
// Unknown ids pass through unchanged.
func decisionFor(actionID string) string {
	switch actionID {
	case ActionConfirm:
		return DecisionYes
	case ActionCancel:
		return DecisionNo
	default:
		return actionID
	}
}
