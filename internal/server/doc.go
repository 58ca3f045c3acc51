// Package server provides HTTP routing, middleware, and handlers that put the session
// lifecycle manager and redirect policy in front of a web client.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Guard
//
// [Guard] resolves the session, the onboarding completion signal and the navigation intent for each
// request and applies [redirect.Decide]: protected views redirect to the login or onboarding page,
// and a session that is still resolving answers 503 with Retry-After instead of redirecting.
//
// # Session endpoints
//
// [SessionHandler] exposes the current session as JSON and accepts focus-triggered refreshes.
//
// # Password Recovery Handler
//
// [RecoveryHandler] serves the page a password-reset link lands on and completes the reset.
// It processes one confirmation and publishes the outcome through a channel, so the CLI can run it
// on a temporary local server and shut down once the result arrives.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
