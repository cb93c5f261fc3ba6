// Package answer implements the publication pipeline and the question and
// notification mutations around it.
//
// Publishing an answer is a multi-step sequence with an external side
// effect in the middle: the answer row is written first, the user's
// instance is asked to mirror it, and only then is the source question
// deleted and the pair of realtime events emitted. If the mirror step
// fails the provisional answer is deleted again, so callers never observe
// an answer whose external post did not go through. Event publication is
// best effort; the datastore mutation is the source of truth.
package answer
