// Package access implements delegated access control: explicit,
// revocable grants letting one principal act on behalf of another for
// named permission types. The resolver substitutes the effective
// principal before any tenant-scoped storage lease; per-route gates
// narrow delegated operations to the exact permission a route requires.
//
// A grant never permits the grantee to further delegate.
package access
