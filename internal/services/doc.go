// Package services defines the [IdentityService] and [ProfileStore] contracts and implements
// the identity service over HTTP.
//
// # Identity Service
//
// [IdentityClient] talks to the hosted identity service:
//
//   - sign-in uses the OAuth2 resource owner password grant and keeps the returned access token in memory
//   - session recovery uses the refresh token grant; the refresh token is the renewable credential
//     the session manager caches, so the user's password is never stored
//   - account, identity, sign-out and password recovery calls are JSON over HTTP with a bearer token
//
// The [oauth2.Config] used for both grants sends client credentials in the request body
// ([oauth2.AuthStyleInParams]) so a rejected grant costs a single round trip.
//
// # Error Handling
//
// Every failure is classified into a [shared.AuthError]:
//   - [shared.ErrNotAuthenticated] : no active session, expired or revoked credential
//   - [shared.ErrInvalidCredentials] : the password grant or a recovery token was rejected
//   - [shared.ErrRegistrationRejected] : duplicate identifier, weak secret, invalid display name
//   - [shared.ErrUnreachable] : transport failures and 5xx responses
//
// # Profile Store
//
// [ProfileStore] is implemented by repositories.ProfileRepository.
package services
