// Package reconcile decides and executes the single next action that moves an
// entity's current record toward its desired record.
//
// A pass first lets the operator re-observe the real world (sync). Drift is
// returned on its own. Otherwise exactly one of destroy, create, or the first
// reporting change function runs. Persisting the result is the caller's job.
package reconcile
