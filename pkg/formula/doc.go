// Package formula loads formula files into types.Formula values and serves
// them through a Registry.
//
// Formulae are TOML (*.toml) or YAML (*.yaml, *.yml) documents. Loading
// happens in three passes:
//
//  1. strict decoding: unknown keys are rejected by both decoders
//  2. schema validation against the embedded CUE definition #Formula
//  3. semantic checks that need Go: digests, predicates, durations,
//     regular expressions, templates and path confinement
//
// A formula that passes all three is immutable for the rest of the run.
package formula
