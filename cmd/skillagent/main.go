// Command skillagent drives the skill-executing agent runtime from the
// command line: a one-shot "run" against a JSON request file, a
// stdin/stdout JSON-lines "serve" loop for local testing, and a "skills
// list" debug entry point over skillcatalog.Load.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skillagent",
		Short: "Skill-executing agent runtime CLI",
	}
	cmd.AddCommand(
		buildRunCmd(),
		buildServeCmd(),
		buildSkillsCmd(),
	)
	return cmd
}
