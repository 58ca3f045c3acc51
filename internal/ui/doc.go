// Package ui implements the terminal presentation of crate: lipgloss styles for CLI output and an
// interactive onboarding wizard built on bubbletea's Elm architecture.
//
// The wizard walks through the configured onboarding steps:
//  1. [LoadingView] : Resume or start progress through [onboarding.Machine.Start]
//  2. [StepView] : Toggle selections for the current step, advance or go back
//  3. [ConfirmView] : Confirm finishing onboarding
//  4. [DoneView] : Onboarding is complete
//
// The [Model] implements bubbletea/Elm's standard Init/Update/View pattern. Every call into the
// machine that may block runs as a [tea.Cmd] and reports back with a message.
//
// Keyboard navigation uses vim-style bindings (j/k, space, enter, esc, y/n, r, q) with contextual help
// displayed via charmbracelet/bubbles/help.
package ui
