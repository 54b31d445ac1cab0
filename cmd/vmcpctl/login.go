package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jrsteele09/vmcp-gateway/apiclient"
	apperrors "github.com/jrsteele09/vmcp-gateway/internal/errors"
	"github.com/jrsteele09/vmcp-gateway/oauthflow"
	"github.com/jrsteele09/vmcp-gateway/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type loginOptions struct {
	username      string
	provider      string
	register      bool
	tokenCallback bool
	timeout       time.Duration
}

func newLoginCmd(c *cli) *cobra.Command {
	opts := &loginOptions{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a password or an OAuth provider",
		Long: `Sign in and store the session locally.

Examples:
  vmcpctl login --username alice            # prompts for the password
  echo "$PW" | vmcpctl login --username alice
  vmcpctl login --provider github           # opens the browser
  vmcpctl login --provider google --register`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, client, err := c.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()

			if opts.provider != "" {
				return c.oauthLogin(cmd, sess, client, opts)
			}
			return c.passwordLogin(cmd, sess, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.username, "username", "u", "", "username or email (also the OAuth login hint)")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "sign in through this OAuth provider")
	cmd.Flags().BoolVar(&opts.register, "register", false, "create the account through the provider")
	cmd.Flags().BoolVar(&opts.tokenCallback, "token-callback", false, "let the backend finish the exchange and return tokens")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "how long to wait for the provider")
	return cmd
}

func (c *cli) passwordLogin(cmd *cobra.Command, sess *session.Session, opts *loginOptions) error {
	in := bufio.NewReader(cmd.InOrStdin())
	username := opts.username
	if username == "" {
		printf(cmd.ErrOrStderr(), "Username: ")
		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		username = strings.TrimSpace(line)
	}
	password, err := readPassword(cmd, in)
	if err != nil {
		return err
	}

	res, err := sess.Login(cmd.Context(), apiclient.Credentials{Username: username, Password: password})
	if err != nil {
		return err
	}
	if err := resultError(res); err != nil {
		return err
	}
	return c.printSignedIn(cmd, sess.Snapshot())
}

// readPassword reads without echo from a terminal, or a line from piped input
func readPassword(cmd *cobra.Command, in *bufio.Reader) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		printf(cmd.ErrOrStderr(), "Password: ")
		data, err := term.ReadPassword(int(f.Fd()))
		printf(cmd.ErrOrStderr(), "\n")
		return string(data), err
	}
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// oauthLogin runs the redirect flow with a loopback listener as the callback
func (c *cli) oauthLogin(cmd *cobra.Command, sess *session.Session, client *apiclient.Client, opts *loginOptions) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("[vmcpctl login] failed to open callback listener: %w", err)
	}
	base := "http://" + listener.Addr().String()

	flow := oauthflow.New(sess.Store(), sess, client, oauthflow.WithLogger(log.Logger))
	done := make(chan error, 1)
	callback := func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid callback", http.StatusBadRequest)
			return
		}
		_, err := flow.Callback(r.Context(), oauthflow.ParseCallback(r.Form))
		if err != nil {
			http.Error(w, "Sign-in failed. Return to the terminal for details.", http.StatusBadRequest)
		} else {
			fmt.Fprintln(w, "Signed in. You can close this window.")
		}
		select {
		case done <- err:
		default:
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/callback", callback)
	mux.HandleFunc("/oauth/callback/success", callback)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		_ = srv.Serve(listener)
	}()
	defer srv.Close()

	mode := oauthflow.ModeLogin
	if opts.register {
		mode = oauthflow.ModeRegister
	}
	req := oauthflow.BeginRequest{
		Provider:     opts.provider,
		Mode:         mode,
		WebClientURL: base,
		RedirectURL:  base + "/oauth/callback",
		Username:     opts.username,
	}
	if opts.tokenCallback {
		req.RedirectURL = ""
	}
	authURL, err := flow.Begin(ctx, req)
	if err != nil {
		return err
	}

	printf(cmd.ErrOrStderr(), "Opening %s\n", authURL)
	if err := c.openURL(authURL); err != nil {
		printf(cmd.ErrOrStderr(), "Could not open a browser, visit the URL above to continue.\n")
	}

	select {
	case err := <-done:
		if err != nil {
			return providerError(err)
		}
	case <-ctx.Done():
		return fmt.Errorf("[vmcpctl login] gave up waiting for %s: %w", opts.provider, ctx.Err())
	}
	return c.printSignedIn(cmd, sess.Snapshot())
}

func providerError(err error) error {
	var apiErr *apperrors.APIError
	if apperrors.As(err, &apiErr) && apiErr.Message != "" {
		return fmt.Errorf("%s: %w", apiErr.Message, err)
	}
	return err
}

func (c *cli) printSignedIn(cmd *cobra.Command, st session.State) error {
	if c.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), st)
	}
	if st.User == nil {
		return errNotSignedIn
	}
	printf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", displayName(st.User), st.User.Email)
	return nil
}

func displayName(u *apiclient.User) string {
	switch {
	case u.FullName != "":
		return u.FullName
	case u.Username != "":
		return u.Username
	default:
		return u.Email
	}
}
