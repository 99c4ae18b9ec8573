// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the command-line surface of the gatehouse server.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/gatehouse/pkg/versions"
)

var rootCmd = &cobra.Command{
	Use:               "gatehouse",
	DisableAutoGenTag: true,
	Short:             "Gatehouse is a multi-tenant OAuth2 authorization server",
	Long: `Gatehouse is a multi-tenant OAuth2 authorization server with an embedded
script runtime for tenant-owned credential validation and a ForwardAuth
interceptor mode for proxy-based single sign-on.

Tenants and clients are loaded from YAML files or Kubernetes custom
resources and reloaded on change without a restart.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// NewRootCmd creates the root command of the gatehouse CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the gatehouse version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			if outputJSON {
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("encoding version info: %w", err)
				}
				cmd.Println(string(out))
				return nil
			}
			cmd.Printf("gatehouse %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output version information as JSON")
	return cmd
}
