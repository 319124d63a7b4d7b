// Package auth provides authentication and authorisation for the
// projectorctl API.
//
// API clients are machine identities listed in the security configuration
// with an Argon2id key hash and one of three roles:
//
//   - viewer: list devices, read controls, read the command log
//   - operator: viewer plus send commands and write controls
//   - admin: operator plus release/reclaim devices and runtime metrics
//
// A client exchanges its id and key for a short-lived HS256 JWT carrying
// its role. Permissions are a static role mapping with no database lookup.
// An empty JWT secret disables authentication.
package auth
