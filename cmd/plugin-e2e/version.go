package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/plugin-e2e/internal/errcode"
	"github.com/pdiddy/plugin-e2e/internal/manifest"
	"github.com/pdiddy/plugin-e2e/internal/redact"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of plugin-e2e",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("plugin-e2e %s\n", version)
		fmt.Printf("manifest schema %s, classifier %s, redaction patterns %s\n",
			manifest.SchemaVersion, errcode.PatternTableVersion, redact.PatternsVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
