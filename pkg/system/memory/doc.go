// Package memory provides an in-memory machine implementing engine.System.
//
// It backs "apply --observed", which converges a document against a recorded
// JSON snapshot instead of the live machine, and it is the collaborator used by
// the engine tests. FailOn injects failures per operation and resource.
// Snapshot files are checked against a JSON Schema before they are loaded.
package memory
