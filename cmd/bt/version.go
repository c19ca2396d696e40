package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/castifi/bugtracker/internal/rpc"
)

var (
	// Version is the current version of bt (overridden by ldflags at build time)
	Version = rpc.ServerVersion
	// Build can be set via ldflags at compile time
	Build = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		checkServer, _ := cmd.Flags().GetBool("server-check")
		if checkServer {
			return showServerVersion(cmd)
		}
		if jsonOutput {
			return outputJSON(out, map[string]string{"version": Version, "build": Build})
		}
		fmt.Fprintf(out, "bt version %s (%s)\n", Version, Build)
		return nil
	},
}

// showServerVersion asks the server named by --server / server.connect
// (or server.addr) for its version and compatibility
func showServerVersion(cmd *cobra.Command) error {
	addr := serverAddr
	if addr == "" {
		addr = cfg.ServerAddr
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := rpc.TryConnect(ctx, addr)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("no bt server answering at %s\nHint: start one with 'bt serve'", addr)
	}
	c.Version = Version

	var health rpc.HealthResponse
	if err := c.Call(ctx, rpc.OpHealth, nil, &health); err != nil && health.Version == "" {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := outputJSON(out, map[string]interface{}{
			"server_version": health.Version,
			"client_version": Version,
			"compatible":     health.Compatible,
			"server_uptime":  health.Uptime,
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Server version: %s\n", health.Version)
		fmt.Fprintf(out, "Client version: %s\n", Version)
		if health.Compatible {
			fmt.Fprintf(out, "Compatibility: ✓ compatible\n")
		} else {
			fmt.Fprintf(out, "Compatibility: ✗ incompatible (restart the server with a matching bt)\n")
		}
		fmt.Fprintf(out, "Server uptime: %.1f seconds\n", health.Uptime)
	}
	if !health.Compatible {
		return errors.New("server version is incompatible")
	}
	return nil
}

func init() {
	versionCmd.Flags().Bool("server-check", false, "Check the server's version and compatibility")
	rootCmd.AddCommand(versionCmd)
}
