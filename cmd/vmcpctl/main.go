// Command vmcpctl is a command line client for the vMCP backend. It signs in
// with a password or an OAuth provider and keeps the session in a local file.
package main

import (
	"fmt"
	"os"

	"github.com/jrsteele09/vmcp-gateway/internal/config"
)

func main() {
	cfg, err := config.Load(os.Getenv("ENV_FILE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitCodeError)
	}
	root := newRootCmd(newCLI(cfg))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
