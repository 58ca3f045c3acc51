// Package models defines the domain types shared by the session, onboarding and redirect packages.
//
// The package contains three groups of types:
//
// 1. Session state, owned by the session lifecycle manager:
//   - [Session] : the single authoritative record of who (if anyone) is signed in
//   - [Identity] : the signed-in user as reported by the identity service
//   - [RenewableCredential] : an opaque refresh token used to re-establish a session
//
// 2. Profile state, owned by the remote profile store:
//   - [Profile] : profile attributes plus persisted onboarding progress
//   - [ProfilePatch] : a partial update applied with [Profile.Apply]
//
// 3. Onboarding state, owned by the onboarding state machine:
//   - [OnboardingProgress] : the in-memory projection the wizard runs on
//   - [NavigationIntent] and [IntentFlags] : why the user arrived at a view
//
// [KeyValueStore] is the contract for the persistent and per-tab flag stores.
package models
