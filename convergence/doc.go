// Package convergence repeats reconcile passes for an identity until the
// store reports that nothing is left to do.
//
// Each pass re-reads the store, so the store is the only source of truth
// between passes. Distinct identities can be converged in parallel with
// RunAll; a single identity is always handled by one sequential loop.
package convergence
