package ui

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/onboarding"
	"github.com/desertthunder/crate/internal/shared"
)

// ViewState represents the current view in the wizard.
type ViewState int

const (
	LoadingView ViewState = iota
	StepView
	ConfirmView
	DoneView
)

// Options configures a wizard run.
type Options struct {
	UserID string
	// NewUser forces the new-user flow on or off. nil defers to the stored navigation intent.
	NewUser *bool
	Choices map[models.StepID][]string
}

// Model represents the wizard state.
type Model struct {
	ctx      context.Context
	view     ViewState
	machine  *onboarding.Machine
	opts     Options
	progress models.OnboardingProgress
	choices  list.Model
	busy     bool
	err      error
	notice   string
	width    int
	height   int
	help     help.Model
	keys     keyMap
}

// NewModel creates a wizard over machine.
func NewModel(ctx context.Context, machine *onboarding.Machine, opts Options) *Model {
	if opts.Choices == nil {
		opts.Choices = DefaultChoices()
	}
	return &Model{
		ctx:     ctx,
		view:    LoadingView,
		machine: machine,
		opts:    opts,
		width:   80,
		height:  24,
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Init starts or resumes onboarding.
func (m *Model) Init() tea.Cmd {
	return m.start()
}

// Progress returns the last progress the wizard rendered.
func (m *Model) Progress() models.OnboardingProgress {
	return m.progress
}

// ViewState returns the active view.
func (m *Model) ViewState() ViewState {
	return m.view
}

// Err returns the error currently shown, if any.
func (m *Model) Err() error {
	return m.err
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.view == StepView {
			m.choices.SetSize(msg.Width-4, msg.Height-8)
		}
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.quit) {
			return m, tea.Quit
		}
		if m.busy {
			return m, nil
		}
		switch m.view {
		case LoadingView:
			return m.handleLoadingKeys(msg)
		case StepView:
			return m.handleStepKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case DoneView:
			if key.Matches(msg, m.keys.enter) {
				return m, tea.Quit
			}
		}
		return m, nil

	case startedMsg:
		m.busy = false
		switch {
		case errors.Is(msg.err, shared.ErrOnboardingComplete):
			m.view = DoneView
			m.notice = "Onboarding was already complete."
		case msg.err != nil:
			m.err = msg.err
		default:
			m.err = nil
			m.progress = msg.progress
			m.enterStep()
		}
		return m, nil

	case advancedMsg:
		m.busy = false
		if len(msg.progress.Steps) > 0 {
			m.progress = msg.progress
		}
		var verr *shared.ValidationError
		switch {
		case errors.As(msg.err, &verr):
			m.err = verr
			return m, nil
		case msg.err != nil:
			m.err = nil
			m.notice = fmt.Sprintf("Could not save yet (%d step(s) waiting to sync): %v", m.machine.PendingWrites(), msg.err)
		default:
			m.err = nil
			m.notice = ""
		}
		m.enterStep()
		return m, nil

	case finalizedMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.notice = ""
		m.view = DoneView
		return m, nil
	}

	if m.view == StepView {
		var cmd tea.Cmd
		m.choices, cmd = m.choices.Update(msg)
		return m, cmd
	}
	return m, nil
}

// enterStep shows the current step, or the confirmation once every step is done.
func (m *Model) enterStep() {
	step, ok := m.progress.Current()
	if !ok {
		m.view = ConfirmView
		return
	}

	chosen := m.progress.Data[step].Values
	options := slices.Clone(m.opts.Choices[step])
	for _, v := range chosen {
		if !slices.Contains(options, v) {
			options = append(options, v)
		}
	}

	items := make([]list.Item, len(options))
	for i, v := range options {
		items[i] = optionItem{value: v, selected: slices.Contains(chosen, v)}
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = false
	m.choices = list.New(items, delegate, m.width-4, m.height-8)
	m.choices.Title = stepTitle(step)
	m.choices.SetShowHelp(false)
	m.choices.SetFilteringEnabled(false)
	m.choices.SetShowStatusBar(false)
	m.view = StepView
}

func (m *Model) handleLoadingKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.err != nil && key.Matches(msg, m.keys.retry) {
		m.err = nil
		return m, m.start()
	}
	return m, nil
}

func (m *Model) handleStepKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.toggle):
		if item, ok := m.choices.SelectedItem().(optionItem); ok {
			item.selected = !item.selected
			return m, m.choices.SetItem(m.choices.Index(), item)
		}
		return m, nil

	case key.Matches(msg, m.keys.enter):
		step, ok := m.progress.Current()
		if !ok {
			return m, nil
		}
		if err := m.machine.UpdateStepData(step, models.StepData{Values: m.selectedValues()}); err != nil {
			m.err = err
			return m, nil
		}
		return m, m.advance()

	case key.Matches(msg, m.keys.back):
		m.err = nil
		m.progress = m.machine.Back()
		m.enterStep()
		return m, nil
	}

	var cmd tea.Cmd
	m.choices, cmd = m.choices.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		return m, m.finalize()
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back):
		m.err = nil
		m.progress = m.machine.Back()
		m.enterStep()
	}
	return m, nil
}

func (m *Model) selectedValues() []string {
	var values []string
	for _, it := range m.choices.Items() {
		if o, ok := it.(optionItem); ok && o.selected {
			values = append(values, o.value)
		}
	}
	return values
}

func (m *Model) start() tea.Cmd {
	m.busy = true
	return func() tea.Msg {
		var progress models.OnboardingProgress
		var err error
		if m.opts.NewUser != nil {
			progress, err = m.machine.Start(m.ctx, m.opts.UserID, *m.opts.NewUser)
		} else {
			progress, err = m.machine.StartWithIntent(m.ctx, m.opts.UserID)
		}
		return startedMsg{progress: progress, err: err}
	}
}

func (m *Model) advance() tea.Cmd {
	m.busy = true
	return func() tea.Msg {
		progress, err := m.machine.Advance(m.ctx)
		return advancedMsg{progress: progress, err: err}
	}
}

func (m *Model) finalize() tea.Cmd {
	m.busy = true
	return func() tea.Msg {
		return finalizedMsg{err: m.machine.Finalize(m.ctx)}
	}
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case LoadingView:
		return m.renderLoading()
	case StepView:
		return m.renderStep()
	case ConfirmView:
		return m.renderConfirm()
	case DoneView:
		return m.renderDone()
	default:
		return ""
	}
}

func (m *Model) renderLoading() string {
	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Could not load onboarding: %v\n\nPress r to retry, q to quit", m.err))
	}
	return styles.help.Render("Loading your progress...")
}

func (m *Model) renderStep() string {
	header := styles.title.Render(fmt.Sprintf("Step %d of %d", m.progress.CurrentIndex+1, len(m.progress.Steps)))

	var status string
	if m.err != nil {
		status = "\n" + styles.err.Render(m.err.Error())
	} else if m.notice != "" {
		status = "\n" + styles.warn.Render(m.notice)
	}

	helpKeys := []key.Binding{m.keys.toggle, m.keys.enter, m.keys.quit}
	if m.progress.CurrentIndex > 0 {
		helpKeys = []key.Binding{m.keys.toggle, m.keys.enter, m.keys.back, m.keys.quit}
	}
	return fmt.Sprintf("%s\n%s%s\n\n%s", header, m.choices.View(), status, m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderConfirm() string {
	title := styles.title.Render("Finish onboarding?")

	var summary string
	for _, step := range m.progress.Steps {
		summary += fmt.Sprintf("\n  %s: %d selected", step, onboarding.Selections(step, m.progress.Data[step]))
	}

	var status string
	if m.err != nil {
		status = "\n\n" + styles.err.Render(fmt.Sprintf("Could not finish: %v", m.err))
	} else if m.notice != "" {
		status = "\n\n" + styles.warn.Render(m.notice)
	}

	helpKeys := []key.Binding{m.keys.yes, m.keys.no, m.keys.quit}
	return fmt.Sprintf("%s\n%s%s\n\n%s", title, summary, status, m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderDone() string {
	msg := "✓ You're all set!"
	if m.notice != "" {
		msg = "✓ " + m.notice
	}
	return fmt.Sprintf("%s\n\n%s", styles.ok.Render(msg), m.help.ShortHelpView([]key.Binding{m.keys.quit}))
}
