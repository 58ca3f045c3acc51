package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/onboarding"
	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/services"
	"github.com/desertthunder/crate/internal/session"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Collaborators not supplied through [RunnerOpts] are built from the config on first use.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer

	identity    services.IdentityService
	profiles    services.ProfileStore
	credentials models.KeyValueStore
	store       models.KeyValueStore

	db       *sql.DB
	redis    *redis.Client
	manager  *session.Manager
	machine  *onboarding.Machine
	intents  *onboarding.IntentStore
	opened   bool
	closeOne sync.Once
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer

	Identity services.IdentityService
	Profiles services.ProfileStore

	// Credentials holds the renewable credential and must outlive reloads.
	Credentials models.KeyValueStore
	// Store holds the navigation-intent flags.
	Store       models.KeyValueStore
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		identity:    opts.Identity,
		profiles:    opts.Profiles,
		credentials: opts.Credentials,
		store:       opts.Store,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, statusCommand, signupCommand, loginCommand, logoutCommand,
		recoverCommand, onboardCommand, routeCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Before loads the configuration named by --config. A missing file falls back to defaults.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}
	if r.configPath == "" {
		r.configPath = cmd.String("config")
	}
	if r.config != nil {
		return ctx, nil
	}

	if _, err := os.Stat(r.configPath); err == nil {
		config, err := shared.LoadConfig(r.configPath)
		if err != nil {
			return ctx, err
		}
		r.config = config
	} else {
		r.logger.Debug("config file not found, using defaults", "path", r.configPath)
		r.config = shared.DefaultConfig()
	}
	return ctx, nil
}

// open builds the session manager, onboarding machine and their stores.
func (r *Runner) open(ctx context.Context) error {
	if r.opened {
		return nil
	}
	if r.config == nil {
		r.config = shared.DefaultConfig()
	}

	if r.profiles == nil || r.credentials == nil || (r.store == nil && r.config.Store.Backend != "redis") {
		db, err := shared.OpenMigrated(r.config.Database)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		r.db = db
	}
	if r.profiles == nil {
		r.profiles = repositories.NewProfileRepository(r.db)
	}
	// The credential always lives in SQLite; only the intent flags follow the store backend.
	if r.credentials == nil {
		r.credentials = repositories.NewFlagRepository(r.db)
	}

	if r.store == nil {
		switch r.config.Store.Backend {
		case "redis":
			client, err := repositories.NewRedisClient(ctx, r.config.Store.RedisURL)
			if err != nil {
				return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
			}
			r.redis = client
			r.store = repositories.NewRedisFlags(client, r.config.Store.IntentTTL())
		default:
			r.store = repositories.NewFlagRepository(r.db)
		}
	}

	if r.identity == nil {
		r.identity = services.NewIdentityClient(r.config.Identity, r.httpClient, r.logger)
	}

	steps, err := onboarding.StepsFromConfig(r.config.Onboarding)
	if err != nil {
		return err
	}

	creds := session.NewCredentialCache(r.credentials, r.config.Store.Namespace)
	r.manager = session.NewManager(r.identity, r.profiles, creds, r.logger)
	r.intents = onboarding.NewIntentStore(r.store)
	r.machine = onboarding.NewMachine(steps, r.profiles, r.intents, r.logger)
	r.opened = true
	return nil
}

// session opens the runner and resolves the current session.
//
// A session that could not be resolved is returned along with its error.
func (r *Runner) session(ctx context.Context) (models.Session, error) {
	if err := r.open(ctx); err != nil {
		return models.Session{}, err
	}
	return r.manager.Initialize(ctx)
}

// requireUser resolves the session and fails unless someone is signed in.
func (r *Runner) requireUser(ctx context.Context) (models.Identity, error) {
	s, err := r.session(ctx)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	if s.Status != models.StatusAuthenticated {
		return models.Identity{}, fmt.Errorf("%w: run 'crate login' first", shared.ErrNotAuthenticated)
	}
	return *s.Identity, nil
}

// Close waits for background profile work and releases the stores the runner opened.
func (r *Runner) Close() error {
	var errs []error
	r.closeOne.Do(func() {
		if r.manager != nil {
			r.manager.Wait()
		}
		if r.redis != nil {
			errs = append(errs, r.redis.Close())
		}
		if r.db != nil {
			errs = append(errs, r.db.Close())
		}
	})
	return errors.Join(errs...)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
