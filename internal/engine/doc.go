// Package engine drains staged offline actions against the remote service.
//
// The unit of work is a pass: one execution of an ActivitySyncer for one
// Key (site, component, activity). The engine guarantees:
//
// Single pass per key:
// The engine keeps an explicit map of in-flight passes keyed by Key. A
// second SyncActivity for a running key joins the running pass and gets the
// same *Result, so a periodic tick, a manual refresh and a
// connectivity-regained event never submit the same staged action twice. The
// entry leaves the map when the pass settles, success or failure.
//
// Ordered submission:
// Batch.Run submits actions in ascending sequence key, whatever order the
// store listed them in. Later actions may depend on earlier ones (a reply to
// a discussion created offline needs the discussion's server id).
//
// Failure isolation:
// A rejected or timed-out submission becomes a Warning and the action stays
// staged; the rest of the batch still runs. A successful submission deletes
// its staged row before the next one starts, so a crash mid-batch leaves only
// the unsubmitted remainder.
//
// Cooperative cancellation:
// Cancellation is checked between submissions, never inside one.
//
// SyncSite fans passes out across activities (bounded by WithConcurrency);
// SyncAllSites walks every known site and isolates per-site enumeration
// failures. Scheduler drives SyncAllSites on a timer with coalesced manual
// triggers and backs off while the remote is unreachable.
package engine
