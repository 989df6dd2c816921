// Package pipeline wires capture, assembly, inference and writing into one
// supervised process.
//
// The Supervisor moves through Initializing, Running, Draining and Stopped.
// Stages are connected by bounded hand-offs and drain by closure: stopping the
// source closes the intake, the assembler flushes its partial chunk and closes
// the chunk queue, the dispatcher finishes queued chunks and closes the
// detection channel, and the writer performs its final flush.
package pipeline
