// Package auth provides bearer token authentication and role-based
// authorisation for the virtual device API.
//
// Tokens are HS256 JWTs carrying a subject and one of three roles
// (viewer → operator → admin). They are minted out of band with
// `vdevd token` and validated by signature and expiry only. The
// role-permission mapping is static.
package auth
