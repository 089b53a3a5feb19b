// Package audit records authorization outcomes in a bounded, queryable log.
//
// The in-memory Log is a fixed-capacity ring buffer: once full, the oldest
// entry is overwritten. It is a diagnostic aid rather than a system of
// record. Durable copies are produced by Sinks, which receive entries
// asynchronously so that a slow sink never delays a decision. When the sink
// queue is full the entry is dropped from the sinks (it is still kept in
// memory) and counted in rosterguard_audit_dropped_total.
package audit
