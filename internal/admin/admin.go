// Package admin implements leadcrm-admin, the operator CLI for schema
// migrations and session maintenance.
package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/leadcrm/internal/buildinfo"
	"github.com/dmitrijs2005/leadcrm/internal/common"
	"github.com/dmitrijs2005/leadcrm/internal/dbx"
	"github.com/dmitrijs2005/leadcrm/internal/logging"
	"github.com/dmitrijs2005/leadcrm/internal/server/config"
	"github.com/dmitrijs2005/leadcrm/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/leadcrm/internal/server/services"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const minPasswordLength = 6

var (
	openDB               = dbx.Open
	newRepositoryManager = repomanager.NewPostgresRepositoryManager

	// readPassword is a test seam for term.ReadPassword.
	readPassword = term.ReadPassword
	stdinFd      = func() int { return int(os.Stdin.Fd()) }
)

var errPasswordMismatch = errors.New("passwords do not match")

// session holds what a command needs once connected to the database.
type session struct {
	cfg    *config.Config
	logger logging.Logger
	db     *sql.DB
	rm     repomanager.RepositoryManager
}

func (s *session) users() *services.UserService {
	return services.NewUserService(s.db, s.rm, s.cfg, s.logger)
}

func (s *session) tokens() *services.TokenService {
	return services.NewTokenService(s.db, s.rm, s.cfg, s.logger)
}

// NewRootCommand builds the command tree. cfg supplies defaults that the
// persistent flags may override.
func NewRootCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "leadcrm-admin",
		Short:         "Operator tasks for the leadcrm API",
		Version:       buildinfo.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfg.DatabaseDSN, "dsn", cfg.DatabaseDSN, "PostgreSQL connection string")
	cmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")

	cmd.AddCommand(newMigrateCommand(cfg))
	cmd.AddCommand(newCleanupTokensCommand(cfg))
	cmd.AddCommand(newRevokeSessionsCommand(cfg))
	cmd.AddCommand(newSetPasswordCommand(cfg))
	return cmd
}

// connect opens the database and returns a session plus its closer.
func connect(ctx context.Context, cfg *config.Config, errOut io.Writer) (*session, func(), error) {
	if cfg.DatabaseDSN == "" {
		return nil, nil, errors.New("database dsn is required")
	}

	logger := logging.New(logging.Options{
		Backend: cfg.LogBackend,
		Format:  "text",
		Level:   cfg.LogLevel,
		Writer:  errOut,
	})

	db, err := openDB(ctx, cfg.DatabaseDSN, dbx.DefaultPoolOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("db init error: %w", err)
	}

	s := &session{cfg: cfg, logger: logger, db: db, rm: newRepositoryManager()}
	return s, func() { _ = db.Close() }, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newMigrateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, closeDB, err := connect(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeDB()

			if err := s.rm.RunMigrations(ctx, s.db); err != nil {
				return fmt.Errorf("migrations error: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newCleanupTokensCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-tokens",
		Short: "Delete expired and revoked refresh tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, closeDB, err := connect(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeDB()

			n, err := s.tokens().CleanupExpiredTokens(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d refresh tokens\n", n)
			return nil
		},
	}
}

func newRevokeSessionsCommand(cfg *config.Config) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "revoke-sessions",
		Short: "Sign a user out of every device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, closeDB, err := connect(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeDB()

			user, err := s.users().GetUserByEmail(ctx, email)
			if err != nil {
				return fmt.Errorf("lookup %s: %w", email, err)
			}
			n, err := s.tokens().RevokeAllUserTokens(ctx, user.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d sessions for %s\n", n, user.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSetPasswordCommand(cfg *config.Config) *cobra.Command {
	var (
		email        string
		keepSessions bool
	)

	cmd := &cobra.Command{
		Use:   "set-password",
		Short: "Set a new password for an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			password, err := promptNewPassword(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			s, closeDB, err := connect(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeDB()

			user, err := s.users().SetPassword(ctx, email, password)
			if err != nil {
				return fmt.Errorf("set password for %s: %w", email, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", user.Email)

			if keepSessions {
				return nil
			}
			n, err := s.tokens().RevokeAllUserTokens(ctx, user.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d sessions\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().BoolVar(&keepSessions, "keep-sessions", false, "Do not revoke existing refresh tokens")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// promptNewPassword reads a password twice from the terminal without echo.
func promptNewPassword(w io.Writer) (string, error) {
	first, err := getPassword(w, "New password: ")
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(first)

	second, err := getPassword(w, "Repeat password: ")
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(second)

	if string(first) != string(second) {
		return "", errPasswordMismatch
	}
	if len(first) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	return string(first), nil
}

func getPassword(w io.Writer, prompt string) ([]byte, error) {
	if _, err := fmt.Fprint(w, prompt); err != nil {
		return nil, err
	}
	pw, err := readPassword(stdinFd())
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}
