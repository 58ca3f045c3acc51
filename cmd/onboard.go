package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/onboarding"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/ui"
	"github.com/urfave/cli/v3"
)

type progressView struct {
	Steps        []models.StepID            `json:"steps"`
	CurrentStep  models.StepID              `json:"current_step,omitempty"`
	CurrentIndex int                        `json:"current_index"`
	Answers      map[models.StepID][]string `json:"answers"`
	Pending      int                        `json:"pending_writes"`
	Completed    bool                       `json:"completed"`
}

// Onboard runs the onboarding wizard, interactively with -i or from flags.
//
// In flag mode each step with an answer is completed in order, stopping at the first step
// without one. --finalize then finishes onboarding if every step is complete.
func (r *Runner) Onboard(ctx context.Context, cmd *cli.Command) error {
	id, err := r.requireUser(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("interactive") {
		return r.onboardInteractive(ctx, cmd, id)
	}

	answers, err := onboardAnswers(cmd)
	if err != nil {
		return err
	}

	var progress models.OnboardingProgress
	if cmd.IsSet("new-user") {
		progress, err = r.machine.Start(ctx, id.UserID, cmd.Bool("new-user"))
	} else {
		progress, err = r.machine.StartWithIntent(ctx, id.UserID)
	}
	if errors.Is(err, shared.ErrOnboardingComplete) {
		if cmd.Bool("json") {
			return r.writeJSON(progressView{Completed: true}, true)
		}
		return r.writePlain("%s\n", ui.Success("✓ Onboarding is already complete"))
	}
	if err != nil {
		return err
	}

	for {
		step, ok := progress.Current()
		if !ok {
			break
		}
		values, given := answers[step]
		if !given {
			break
		}
		if err := r.machine.UpdateStepData(step, models.StepData{Values: values}); err != nil {
			return err
		}

		var perr *shared.PersistenceError
		progress, err = r.machine.Advance(ctx)
		switch {
		case errors.As(err, &perr):
			r.logger.Warn("step not saved yet, it will be retried", "step", step, "err", err)
		case err != nil:
			return err
		}
	}

	// A registration flow resumes next time only once every completed step is saved.
	if progress.IsNewUserFlow && progress.CurrentIndex > 0 && !cmd.Bool("finalize") && r.machine.PendingWrites() == 0 {
		if err := r.intents.ConsumeRegistration(ctx); err != nil {
			r.logger.Warn("failed to update navigation intent", "err", err)
		}
	}

	completed := false
	if cmd.Bool("finalize") {
		if err := r.machine.Finalize(ctx); err != nil {
			return err
		}
		completed = true
	}

	if cmd.Bool("json") {
		return r.writeJSON(r.progressView(progress, completed), true)
	}
	return r.printProgress(progress, completed)
}

func (r *Runner) onboardInteractive(ctx context.Context, cmd *cli.Command, id models.Identity) error {
	// Logs go to a file so they do not interfere with the wizard's rendering.
	fileLogger, err := shared.NewFileLogger("./tmp/crate-onboard.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	steps, err := onboarding.StepsFromConfig(r.config.Onboarding)
	if err != nil {
		return err
	}
	machine := onboarding.NewMachine(steps, r.profiles, r.intents, fileLogger)

	opts := ui.Options{UserID: id.UserID}
	if cmd.IsSet("new-user") {
		newUser := cmd.Bool("new-user")
		opts.NewUser = &newUser
	}

	p := tea.NewProgram(ui.NewModel(ctx, machine, opts), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running onboarding wizard: %w", err)
	}
	return nil
}

// onboardAnswers collects the answers passed on the command line, keyed by step.
func onboardAnswers(cmd *cli.Command) (map[models.StepID][]string, error) {
	answers := make(map[models.StepID][]string)
	for flag, step := range map[string]models.StepID{
		"genres":  models.StepGenres,
		"artists": models.StepArtists,
		"import":  models.StepImportLegacyRatings,
	} {
		if cmd.IsSet(flag) {
			answers[step] = cmd.StringSlice(flag)
		}
	}

	for _, a := range cmd.StringSlice("answer") {
		step, value, ok := strings.Cut(a, "=")
		if !ok || strings.TrimSpace(step) == "" {
			return nil, fmt.Errorf("%w: --answer must be step=value, got %q", shared.ErrInvalidArgument, a)
		}
		id := models.StepID(strings.TrimSpace(step))
		answers[id] = append(answers[id], value)
	}
	return answers, nil
}

func (r *Runner) progressView(p models.OnboardingProgress, completed bool) progressView {
	v := progressView{
		Steps:        p.Steps,
		CurrentIndex: p.CurrentIndex,
		Answers:      make(map[models.StepID][]string, len(p.Data)),
		Pending:      r.machine.PendingWrites(),
		Completed:    completed,
	}
	if step, ok := p.Current(); ok {
		v.CurrentStep = step
	}
	for step, data := range p.Data {
		v.Answers[step] = data.Values
	}
	return v
}

func (r *Runner) printProgress(p models.OnboardingProgress, completed bool) error {
	if completed {
		return r.writePlain("%s\n", ui.Success("✓ Onboarding complete"))
	}

	r.writePlainHeader("crate onboarding")
	for i, step := range p.Steps {
		mark := " "
		if i < p.CurrentIndex {
			mark = "✓"
		}
		r.writePlain("%s %d. %s (%d selected)\n", mark, i+1, step, onboarding.Selections(step, p.Data[step]))
	}

	if n := r.machine.PendingWrites(); n > 0 {
		r.writePlain("%s\n", ui.Warning(fmt.Sprintf("%d step(s) waiting to sync", n)))
	}

	if step, ok := p.Current(); ok {
		return r.writePlainln("Next: answer %q (for example --answer %s=value)", step, step)
	}
	return r.writePlainln("All steps done: run 'crate onboard --finalize'")
}
