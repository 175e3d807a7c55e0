package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-client/app"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/routegate"
	"github.com/jrsteele09/go-auth-client/tokenstore"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const Version = "0.1.0"

type globalFlags struct {
	configFile string
	logLevel   string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "auth-client",
		Short:         "Session client for the identity backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "YAML config file (overrides CONFIG_FILE)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(flags),
		loginCmd(flags),
		logoutCmd(flags),
		whoamiCmd(flags),
		statusCmd(flags),
		signupCmd(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "auth-client version %s\n", Version)
			},
		},
	)
	return cmd
}

// open loads configuration and wires the subsystem. The caller must Close the app.
func open(ctx context.Context, flags *globalFlags) (*app.App, error) {
	if flags.configFile != "" {
		if err := os.Setenv("CONFIG_FILE", flags.configFile); err != nil {
			return nil, errors.Wrap(err, "open Setenv")
		}
	}
	c, err := config.New()
	if err != nil {
		return nil, err
	}
	level := c.GetLogLevel()
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	log := logging.New(level, c.GetEnv(), os.Stderr)
	return app.New(ctx, c, log)
}

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local gateway: role gated pages, session API and backend proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags)
		},
	}
}

func run(flags *globalFlags) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := open(ctx, flags)
	if err != nil {
		return err
	}
	defer a.Close()

	displayAppname(a.Config.GetAppName())
	if err := a.Start(ctx); err != nil {
		return err
	}
	handler, err := a.Server()
	if err != nil {
		return err
	}

	server := &http.Server{Addr: a.Config.GetPort(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errs := make(chan error, 1)
	go func() { errs <- listenAndServe(server, a.Log) }()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(server)
}

func listenAndServe(server *http.Server, log zerolog.Logger) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server.ListenAndServe")
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

func loginCmd(flags *globalFlags) *cobra.Command {
	var email, password, role string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			required := users.RoleNone
			if role != "" {
				var err error
				if required, err = users.ParseRole(role); err != nil {
					return err
				}
			}
			if password == "" {
				password = os.Getenv("AUTH_PASSWORD")
			}

			ctx := cmd.Context()
			a, err := open(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Session.LoginAs(ctx, email, password, required)
			if err != nil {
				return errors.New(auth.UserMessage(err))
			}
			if !result.Success {
				return errors.New(utils.OrDefault(&result.Msg, auth.UserMessage(auth.LoginFailedErr)))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", result.User.FullName, result.User.Role)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (default $AUTH_PASSWORD)")
	cmd.Flags().StringVar(&role, "role", "", "Only accept an account with this role")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			a.Session.Logout(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func whoamiCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the user the stored token belongs to",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Session.Start(ctx); err != nil {
				a.Log.Debug().Err(err).Msg("restoring session")
			}
			user := a.Session.Snapshot().User
			if user == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
				return nil
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s <%s>\n", user.FullName, user.Email)
			fmt.Fprintf(out, "Role:   %s\n", user.Role)
			fmt.Fprintf(out, "Mobile: %s\n", utils.OrDefault(user.MobileNumber, "-"))
			fmt.Fprintf(out, "Home:   %s\n", routegate.HomePath(user.Role))
			return nil
		},
	}
}

func statusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Describe the stored token without contacting the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			token, ok, err := a.Tokens.Get(ctx)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(out, "No stored token")
				return nil
			}
			info := tokenstore.Inspect(token)
			if info.Opaque {
				fmt.Fprintln(out, "Stored token is opaque")
				return nil
			}
			fmt.Fprintf(out, "Subject: %s\n", info.Subject)
			if !info.ExpiresAt.IsZero() {
				fmt.Fprintf(out, "Expires: %s (expired: %t)\n", info.ExpiresAt.Format(time.RFC3339), info.Expired(time.Now()))
			}
			return nil
		},
	}
}

func signupCmd(flags *globalFlags) *cobra.Command {
	var form users.SignupForm
	var role, imagePath string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Register a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if form.Role, err = users.ParseRole(role); err != nil {
				return err
			}
			if form.Password == "" {
				form.Password = os.Getenv("AUTH_PASSWORD")
			}
			if imagePath != "" {
				data, err := os.ReadFile(imagePath)
				if err != nil {
					return errors.Wrap(err, "reading image")
				}
				form.Image = &users.FileUpload{Filename: imagePath, ContentType: http.DetectContentType(data), Data: data}
			}
			if err := form.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := open(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Auth.Signup(ctx, form)
			if err != nil {
				return errors.New(auth.UserMessage(err))
			}
			if !result.Success {
				return errors.New(result.Msg)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Registration successful. Please log in.")
			return nil
		},
	}
	cmd.Flags().StringVar(&form.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&form.FullName, "name", "", "Full name")
	cmd.Flags().StringVar(&form.Password, "password", "", "Password (default $AUTH_PASSWORD)")
	cmd.Flags().StringVar(&form.MobileNumber, "mobile", "", "Mobile number")
	cmd.Flags().StringVar(&role, "role", string(users.RolePatient), "Admin, Doctor or Patient")
	cmd.Flags().StringVar(&form.Address, "address", "", "Postal address")
	cmd.Flags().StringVar(&imagePath, "image", "", "Optional profile image file")
	return cmd
}
