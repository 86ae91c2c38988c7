// Package virtops holds the entity model shared by the reconciliation engine:
// identities, records and their lifecycle status, and the rule deciding when a
// current record already satisfies a desired one.
//
// The engine itself lives in reconcile (one decision per pass) and
// convergence (repeat passes until the store reports no more work). Concrete
// entity kinds live under entity/, state stores under infra/.
package virtops
