// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/garrulus/garrulus/internal/config"
)

// NewGenSchemaCmd creates the gen-schema subcommand.
func NewGenSchemaCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "gen-schema",
		Short: "Generate the configuration JSON Schema",
		Long: `Generate the JSON Schema for the configuration file, for editor
completion and CI validation.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenSchema(cmd, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the schema to a file instead of stdout")

	return cmd
}

func runGenSchema(cmd *cobra.Command, output string) error {
	data, err := config.GenerateSchema()
	if err != nil {
		return err
	}

	if output == "" {
		cmd.Println(string(data))
		return nil
	}
	if err := os.WriteFile(output, append(data, '\n'), 0o600); err != nil {
		return oops.With("path", output).Hint("failed to write schema").Wrap(err)
	}
	cmd.Printf("Generated %s\n", output)
	return nil
}
