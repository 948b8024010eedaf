package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flexigpt/skillagent-go/skillcatalog"
)

func buildSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect the skill catalog",
	}
	cmd.AddCommand(buildSkillsListCmd())
	return cmd
}

func buildSkillsListCmd() *cobra.Command {
	var skillsRoot string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered skills under --skills-root",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := skillcatalog.Load(cmd.Context(), skillsRoot)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(catalog.Skills)
			}
			for _, s := range catalog.Skills {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", s.Name, s.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&skillsRoot, "skills-root", "", "Directory containing skill subdirectories")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit full entries as JSON instead of a name/description table")
	_ = cmd.MarkFlagRequired("skills-root")
	return cmd
}
