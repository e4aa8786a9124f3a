package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/k9dev/scout-agent/internal/rules"
	appversion "github.com/k9dev/scout-agent/internal/version"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Work with rule files",
	}

	cmd.AddCommand(rulesValidateCmd())

	return cmd
}

func rulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Parse and compile a rule file, reporting any errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := args[0]

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}

			rs, err := rules.LoadRulesFromJSON(data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}

			for _, r := range rs {
				compiled := rules.Compile(r)
				if len(compiled.MarshalBinary()) == 0 {
					return fmt.Errorf("rule %d (%s): compiled to empty record", r.ID, r.Name)
				}
			}

			fmt.Printf("%s: %d rule(s) valid (rules format v%d)\n", path, len(rs), appversion.RulesFormatVersion)
			return nil
		},
	}
}
