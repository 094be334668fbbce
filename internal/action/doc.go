// Package action is the orchestration core of ticketwatch. It defines the
// Action contract, the Manager that owns the prioritized action registry and
// runs one orchestration pass per (prediction, customer context) pair, the
// execution policy configuration, and the aggregated Report returned to
// callers.
//
// A failure in one action never prevents its siblings from running or being
// recorded, and no error raised by an action escapes Manager.Execute.
package action
