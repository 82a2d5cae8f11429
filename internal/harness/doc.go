// Package harness runs sync scenarios end to end.
//
// A scenario stages actions offline, runs sync passes against a scripted
// remote service and then checks the calls that reached the remote and
// the rows left in the site's tables.
//
// # Scenario Format
//
//	name: reply_to_staged_discussion
//	description: "A reply waits for its discussion and is sent with its ids"
//	remote:
//	  offline: true
//	steps:
//	  - stage: discussion
//	    args: { forum: 3, subject: "Hi", message: "...", timecreated: 1000 }
//	  - stage: reply
//	    args: { forum: 3, staged_discussion: 1000, subject: "Re: Hi", message: "..." }
//	  - sync: {}
//	    expect: { still_pending: true }
//	  - remote: { offline: false }
//	  - sync: { component: mod_forum, activity: 3 }
//	    expect: { status: succeeded, submitted: 2 }
//	assertions:
//	  - type: trace_contains
//	    action: forum.reply
//	    args: { postid: 101 }
//	  - type: final_state
//	    table: forum_replies
//	    rows: 0
//
// Each step either stages an action (the kinds of package stage), syncs, or
// changes how the remote behaves. The remote hands out server ids starting
// at 100.
//
// # Assertion Types
//
//   - trace_contains: a remote call with matching args (subset) was made
//   - trace_order: remote calls were made in the given order
//   - trace_count: a remote call was made exactly N times
//   - final_state: rows of a table matching where, by count or by value
//
// # Deterministic Testing
//
// Runs use a logical clock, sequential pass ids and one pass at a time, so
// the trace of a scenario is identical across runs and can be compared
// against a golden file with RunWithGolden.
package harness
