// Package safety implements the validation core of the CAN safety gateway.
//
// The engine sits between the vehicle buses and an external driving-assistance
// controller. For every frame it answers three questions:
//
//   - OnReceive: is this inbound frame authentic and fresh? Authentic frames
//     update the tracked vehicle state and may move the engagement state.
//   - OnTransmitRequest: may this outbound frame be placed on the wire?
//     Steering commands pass through the actuation limiter.
//   - OnForward: should this frame be mirrored to another bus segment?
//
// Vehicle-specific behaviour (message layouts, thresholds, which ids the
// gateway owns) lives in a Variant chosen at construction time. The engine
// owns all mutable state; nothing here is global.
//
// CONCURRENCY:
//
// An Engine is not safe for concurrent use. Every hook runs to completion and
// callers must serialize them in frame arrival order. The gateway runtime does
// this with a single event-loop goroutine.
//
// FAIL-SAFE BIAS:
//
// Any anomaly degrades to the strictest behaviour: drop the frame, disengage,
// stop forwarding. A relay malfunction is sticky until OnInit.
package safety
