package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jrsteele09/vmcp-gateway/apiclient"
	"github.com/jrsteele09/vmcp-gateway/internal/config"
	apperrors "github.com/jrsteele09/vmcp-gateway/internal/errors"
	"github.com/jrsteele09/vmcp-gateway/internal/logging"
	"github.com/jrsteele09/vmcp-gateway/session"
	"github.com/jrsteele09/vmcp-gateway/tokenstore"
	"github.com/pkg/browser"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Exit codes for scripting
const (
	ExitCodeSuccess      = 0
	ExitCodeError        = 1
	ExitCodeAuthRequired = 2
	ExitCodeAuthFailed   = 3
)

var errNotSignedIn = errors.New("not signed in")

// cli holds what every subcommand shares
type cli struct {
	cfg        config.Config
	backendURL string
	storePath  string
	logLevel   string
	jsonOutput bool

	// openURL launches the user's browser
	openURL func(url string) error
}

func newCLI(cfg config.Config) *cli {
	return &cli{cfg: cfg, openURL: browser.OpenURL}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "vmcpctl",
		Short: "Sign in to a vMCP backend from the command line",
		Long: `vmcpctl keeps a vMCP session in a local token store and answers
the same questions the console does: who is signed in, which vMCPs
they have, and where a console route would send them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logging.Configure(cmd.ErrOrStderr(), c.logLevel, "DEV")
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.backendURL, "backend", c.cfg.GetBackendURL(), "vMCP backend URL")
	flags.StringVar(&c.storePath, "store", defaultStorePath(), "token store file")
	flags.StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.BoolVar(&c.jsonOutput, "json", false, "print JSON instead of text")

	root.AddCommand(
		newLoginCmd(c),
		newLogoutCmd(c),
		newWhoamiCmd(c),
		newRefreshCmd(c),
		newRouteCmd(c),
		newVMCPsCmd(c),
	)
	return root
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "vmcpctl", "tokens.json")
}

func (c *cli) client() *apiclient.Client {
	return apiclient.New(c.backendURL, apiclient.WithLogger(log.Logger))
}

// openSession restores the session persisted in the token store
func (c *cli) openSession(ctx context.Context) (*session.Session, *apiclient.Client, error) {
	store, err := tokenstore.NewFile(c.storePath)
	if err != nil {
		return nil, nil, err
	}
	client := c.client()
	sess := session.New(store, client, session.WithLogger(log.Logger))
	if err := sess.Hydrate(ctx); err != nil {
		sess.Close()
		return nil, nil, err
	}
	return sess, client, nil
}

// resultError turns a failed operation into the command's error
func resultError(res session.Result) error {
	if res.Success {
		return nil
	}
	switch res.Kind {
	case apperrors.KindInvalidCredentials, apperrors.KindNotAuthenticated,
		apperrors.KindTokenExpired, apperrors.KindTokenInvalid:
		return fmt.Errorf("%w: %s", errNotSignedIn, res.Error)
	}
	return errors.New(res.Error)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.Is(err, errNotSignedIn), apperrors.Is(err, apperrors.ErrNotAuthenticated):
		return ExitCodeAuthRequired
	case apperrors.Is(err, apperrors.ErrProviderDenied), apperrors.Is(err, apperrors.ErrCsrfMismatch):
		return ExitCodeAuthFailed
	default:
		return ExitCodeError
	}
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
