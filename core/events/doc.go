// Package events defines the typed session event contract emitted by the
// voice-ordering engine toward its embedder.
//
// Event kinds are grouped by namespace:
//
//   - session.*        lifecycle of the realtime session itself
//   - transcript.*     per-utterance transcript assembly
//   - function_call.*  structured invocation assembly
//   - order.*          order-mutation intents handed to the cart collaborator
//   - protocol.*       control-channel diagnostics
//
// session events
//
//   - SessionStateChanged (session.state_changed): the state machine moved
//     between states; carries from/to and the triggering event name.
//   - SessionReady (session.ready): the remote session is usable; ConfirmedVia
//     distinguishes the explicit lifecycle event from the readiness timeout.
//   - SessionErrored (session.errored): the session reached terminal ERROR.
//   - SessionInvalidTransition (session.invalid_transition): an event arrived
//     that is not valid for the current state; recorded, never applied.
//   - SessionRecordingAborted (session.recording_aborted): an in-flight
//     recording was abandoned during a reconnect splice.
//   - CredentialRefreshed (session.credential_refreshed): a replacement
//     credential was minted and a transport splice is starting.
//
// transcript events
//
//   - TranscriptUpdated (transcript.updated): mutable snapshot of an
//     utterance's accumulated text.
//   - TranscriptFinal (transcript.final): terminal immutable text for an
//     utterance.
//   - TranscriptTimedOut (transcript.timed_out): no terminal transcript event
//     arrived within the transcript window; non-fatal.
//
// function_call events
//
//   - FunctionCallCompleted (function_call.completed): arguments parsed, the
//     invocation is complete.
//   - FunctionCallParseFailed (function_call.parse_failed): terminal event
//     observed but the accumulated arguments were not valid JSON; carries the
//     raw accumulator for diagnostics.
//
// order events
//
//   - OrderIntentIssued (order.intent_issued): a translated order-mutation
//     intent was handed to the cart collaborator.
//
// protocol events
//
//   - ProtocolErrored (protocol.errored): a malformed or otherwise
//     undecodable control-channel frame; the session keeps running.
package events
