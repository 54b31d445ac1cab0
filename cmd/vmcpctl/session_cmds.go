package main

import (
	"encoding/json"
	"io"

	"github.com/jrsteele09/vmcp-gateway/internal/utils"
	"github.com/spf13/cobra"
)

func newLogoutCmd(c *cli) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, _, err := c.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()

			logout := sess.Logout
			if all {
				logout = sess.LogoutAll
			}
			res, err := logout(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printf(cmd.OutOrStdout(), "Signed out\n")
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "also end the account's other sessions")
	return cmd
}

func newWhoamiCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, _, err := c.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()

			st := sess.Snapshot()
			if c.jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), st); err != nil {
					return err
				}
			}
			if !st.IsAuthenticated {
				return errNotSignedIn
			}
			if !c.jsonOutput {
				printf(cmd.OutOrStdout(), "%s\n", displayName(st.User))
				printf(cmd.OutOrStdout(), "  Email:    %s\n", st.User.Email)
				printf(cmd.OutOrStdout(), "  Username: %s\n", st.User.Username)
				printf(cmd.OutOrStdout(), "  Verified: %t\n", st.User.IsVerified)
				if lastLogin := utils.Value(st.User.LastLogin); lastLogin != "" {
					printf(cmd.OutOrStdout(), "  Last login: %s\n", lastLogin)
				}
			}
			return nil
		},
	}
}

func newRefreshCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, _, err := c.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()

			res, err := sess.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			}
			if err := resultError(res); err != nil {
				return err
			}
			if !c.jsonOutput {
				printf(cmd.OutOrStdout(), "Access token renewed\n")
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
