// Package notify carries materialization-change notifications out of the
// authorization engine.
//
// A MaterializationChange is emitted whenever a MATERIALIZE grant or replace
// affects an ORGANIZATION principal on a materialization-sensitive object
// type. Delivery and consumption are owned by external collaborators; the
// sinks here only hand the value off. ChannelSink buffers for an in-process
// consumer and counts drops when the consumer falls behind; LogSink records
// the change in the structured log; MultiSink fans out to several sinks.
package notify
