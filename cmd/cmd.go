// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func passwordFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "password",
		Aliases: []string{"p"},
		Usage:   "Account password",
		Sources: cli.EnvVars("CRATE_PASSWORD"),
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output raw JSON",
	}
}

// setupCommand handles setup operations for configuration and storage.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create the config file, initialize the database and run migrations",
		Action: r.Setup,
	}
}

// statusCommand resolves and prints the session.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Check the current session, onboarding and navigation intent",
		Flags:  []cli.Flag{jsonFlag()},
		Action: r.Status,
	}
}

// signupCommand registers a new account.
func signupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "signup",
		Usage: "Create an account and sign in",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "email"},
		},
		Flags: []cli.Flag{
			passwordFlag(),
			&cli.StringFlag{
				Name:  "name",
				Usage: "Display name",
			},
		},
		Action: r.SignUp,
	}
}

// loginCommand signs in with an existing account.
func loginCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "email"},
		},
		Flags: []cli.Flag{
			passwordFlag(),
			&cli.BoolFlag{
				Name:  "new",
				Usage: "Account was just created elsewhere; make sure its profile exists before returning",
			},
		},
		Action: r.Login,
	}
}

// logoutCommand ends the session.
func logoutCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "Sign out and forget the saved credential",
		Action: r.Logout,
	}
}

// recoverCommand handles password reset.
func recoverCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "recover",
		Usage: "Reset a forgotten password",
		Commands: []*cli.Command{
			{
				Name:  "begin",
				Usage: "Send a reset link to the account's email",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "email"},
				},
				Action: r.RecoverBegin,
			},
			{
				Name:  "confirm",
				Usage: "Choose a new password with the token from the reset email",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "token",
						Usage: "Reset token from the email",
					},
					&cli.StringFlag{
						Name:    "secret",
						Usage:   "New password",
						Sources: cli.EnvVars("CRATE_NEW_PASSWORD"),
					},
					&cli.BoolFlag{
						Name:  "listen",
						Usage: "Open a local reset form in the browser instead of passing --secret",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long --listen waits for the form",
						Value: defaultListenTimeout,
					},
				},
				Action: r.RecoverConfirm,
			},
		},
	}
}

// onboardCommand runs the onboarding wizard.
func onboardCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "onboard",
		Usage: "Complete onboarding steps (pass an empty value to skip an optional step)",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "genres",
				Usage: "Genres you listen to",
			},
			&cli.StringSliceFlag{
				Name:  "artists",
				Usage: "Favourite artists, in order",
			},
			&cli.StringSliceFlag{
				Name:  "import",
				Usage: "Services to import legacy ratings from",
			},
			&cli.StringSliceFlag{
				Name:  "answer",
				Usage: "Answer for any step as step=value (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "new-user",
				Usage: "Start from the first step without resuming saved progress (default: from navigation intent)",
			},
			&cli.BoolFlag{
				Name:  "finalize",
				Usage: "Finish onboarding once every step is complete",
			},
			&cli.BoolFlag{
				Name:    "interactive",
				Aliases: []string{"i"},
				Usage:   "Run the interactive wizard",
			},
			jsonFlag(),
		},
		Action: r.Onboard,
	}
}

// routeCommand prints the routing decision for a view.
func routeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "route",
		Usage: "Show where a view would send the current user (public, protected, onboarding)",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "view"},
		},
		Flags:  []cli.Flag{jsonFlag()},
		Action: r.Route,
	}
}

// serveCommand runs the HTTP routing glue.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the session API behind the route guard",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "open",
				Usage: "Open the browser once the server is listening",
			},
		},
		Action: r.Serve,
	}
}
