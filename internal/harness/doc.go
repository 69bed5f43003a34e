// Package harness runs end-to-end pipeline scenarios.
//
// A scenario is a YAML file describing a round (its fixtures), the scripted
// upstream responses per fixture, optional pre-existing local state (payloads
// and manifest lines) and assertions over the result. The harness serves the
// script from an in-process HTTP server, drives the real fetch client and
// engine against it on a fake clock, and records every request in a trace.
//
// Runs are deterministic: the fake clock never sleeps, run ids are fixed and
// the request order is fixed by the engine. Traces can therefore be compared
// against golden files with RunWithGolden.
//
// The same scenarios back the "roundfetch test" command.
package harness
