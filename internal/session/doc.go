// Package session owns the client's single authoritative [models.Session].
//
// A [Manager] serializes every operation that can change the session: the initial check,
// focus-triggered re-checks, recovery from a cached renewable credential, sign-in, sign-up
// and sign-out. Concurrent checks share one flight and one result. Sign-in, sign-up and
// sign-out advance an epoch; a check that started under an older epoch has its result
// discarded when it lands.
//
// The manager also guarantees that every authenticated user has a profile, creating a
// default one the first time it is missing.
package session
