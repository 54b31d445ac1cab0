package main

import (
	"net/url"

	"github.com/jrsteele09/vmcp-gateway/routeguard"
	"github.com/jrsteele09/vmcp-gateway/session"
	"github.com/jrsteele09/vmcp-gateway/shell"
	"github.com/spf13/cobra"
)

type routeView struct {
	Path     string              `json:"path"`
	Class    string              `json:"class"`
	Decision routeguard.Decision `json:"decision"`
}

func newRouteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "route <path>",
		Short: "Show what the console does when the session navigates to path",
		Example: `  vmcpctl route /vmcp
  vmcpctl route "/oauth_setup/github?client_id=abc"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := url.Parse(args[0])
			if err != nil {
				return err
			}

			var st session.State
			authDisabled := c.cfg.GetAuthDisabled()
			if !authDisabled {
				sess, _, err := c.openSession(cmd.Context())
				if err != nil {
					return err
				}
				st = sess.Snapshot()
				sess.Close()
			}

			routes := routeguard.DefaultRoutes(c.cfg.GetLoginPath(), c.cfg.GetLandingPath())
			decision := routeguard.NewPolicy(routes, authDisabled).Decide(routeguard.Request{
				Path:            u.Path,
				Query:           u.Query(),
				IsAuthenticated: st.IsAuthenticated,
				Loading:         st.Loading,
			})

			view := routeView{Path: args[0], Class: decision.Class.String(), Decision: decision}
			if c.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			if decision.Action == routeguard.ActionRedirect {
				printf(cmd.OutOrStdout(), "%s (%s) -> redirect %s\n", view.Path, view.Class, decision.Location)
				return nil
			}
			printf(cmd.OutOrStdout(), "%s (%s) -> %s\n", view.Path, view.Class, decision.Action)
			return nil
		},
	}
}

func newVMCPsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "vmcps",
		Short: "List the signed in user's vMCPs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var auth shell.Authenticator
			client := c.client()
			if !c.cfg.GetAuthDisabled() {
				sess, cl, err := c.openSession(cmd.Context())
				if err != nil {
					return err
				}
				defer sess.Close()
				if !sess.Snapshot().IsAuthenticated {
					return errNotSignedIn
				}
				auth, client = sess, cl
			}

			vmcps := shell.NewVMCPs(client, auth)
			list, err := vmcps.List(cmd.Context(), true)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			for _, v := range list {
				printf(cmd.OutOrStdout(), "%-20s %s\n", v.Name, v.Description)
			}
			return nil
		},
	}
}
