// Package envelope implements the wire format of the chat stream.
//
// Every frame in either direction is one JSON object:
//
//	{"type": "...", "conversation_id": "...", "event_id": "...",
//	 "sequence": 1, "ts": 1700000000000, "payload": {...}}
//
// Inbound frames go through Codec.Decode, which checks the routing fields and
// validates known payloads against JSON schemas. Outbound envelopes are made
// by a Builder, which alone assigns event_id and ts and records the sequence
// handed to it by the emitter.
package envelope
