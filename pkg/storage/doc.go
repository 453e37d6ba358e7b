// Package storage provides utilities shared across storage adapter
// implementations: sentinel errors, tenant context helpers, and the
// store contracts implemented by the memory and postgres backends.
//
// Row visibility for principal-scoped data is enforced by the storage
// layer itself. The tenant context helpers carry the effective principal
// id from the request pipeline down to the connection lease that binds
// it to a database session.
package storage
