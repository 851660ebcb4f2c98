// Package retry wraps fallible operations with bounded attempts and
// exponential backoff.
//
// Every remote call the relay makes (session create, session delete, prompt)
// goes through Do so a transient network blip is not a user-visible failure
// on the first try. Backoff starts at the policy's initial delay and
// multiplies after each failed attempt, capped at the max delay. No jitter.
package retry
