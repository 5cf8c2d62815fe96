// Package scheduler decides when each registered job runs next.
//
// All commands go through one actor goroutine (Run), so operations on a job's
// timer and retry state are applied in the order issued and never interleave.
// Job bodies run inside the actor too: a slow body delays later commands.
//
// The scheduler talks to its surroundings through narrow collaborators:
//   - Alarm arms and cancels one named timer per job; a fired timer comes back
//     as Fire(name), which is RunNow.
//   - Reachability answers whether the network is up right now.
//   - Observer (network-restored, power, boot) is switched on and off.
package scheduler
