// Package auth provides the authentication gateway for stride.
//
// Authentication uses a chain-of-responsibility pattern with four-outcome
// voting: each authenticator returns Yes (identity found), No (credentials
// present but invalid), Deny (terminal rejection), or Abstain (can't
// handle). A No records the failure and lets later authenticators run: a
// request may carry several credential types at once (a stale cookie
// alongside a valid server session), and only the absence of any valid
// credential rejects it. Deny short-circuits immediately; it is reserved
// for credentials that must never fall through, such as a challenge token
// presented with the wrong purpose.
//
// Auth is implemented as HTTP middleware, keeping it decoupled from
// handler logic. The middleware also injects the effective principal into
// the request context for storage tenant scoping.
package auth
