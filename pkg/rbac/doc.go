// Package rbac provides firm-scoped capability grants.
//
// A grant says that an actor holds a named capability within one firm.
// The ledger consults this package before recording elevated credit
// sources; nothing here knows about billing semantics.
//
// # Usage
//
//	store := rbac.NewPostgresGrantStore(db)
//	checker := rbac.NewCachedChecker(store, time.Minute, log)
//	credits := ledger.NewService(ledgerStore, checker, auditLogger, log)
//
// Checks fail closed: a store error denies the capability rather than
// granting it.
package rbac
