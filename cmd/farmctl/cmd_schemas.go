package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"farmhands/internal/decision"
	"farmhands/internal/profile"
)

// newSchemasCmd creates the "farmctl schemas" subcommand.
func newSchemasCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "List the decision schemas known to the profile",
		Long:  "List compiled-in and profile-defined decision schemas.\nThe active one is marked with '*'.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := profile.Load(path)
			if err != nil {
				return fmt.Errorf("schemas: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\tNAME\tSTEPS\tMOVES\tANIMATIONS\tINTERVAL\tVOCABULARY")
			for _, s := range knownSchemas(p) {
				mark := ""
				if s.Name == p.ActiveSchema {
					mark = "*"
				}
				vocab := make([]string, 0, len(s.Vocabulary))
				for _, a := range s.Vocabulary {
					vocab = append(vocab, string(a))
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					mark, s.Name, s.Steps, s.Move, s.Animation, s.RedecideInterval, strings.Join(vocab, ","))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&path, "profile", os.Getenv("PROFILE_PATH"), "profile YAML (defaults to the embedded profile)")
	return cmd
}

// knownSchemas lists the profile's schemas followed by built-ins it does not
// override.
func knownSchemas(p *profile.Profile) []decision.Schema {
	out := append([]decision.Schema(nil), p.Schemas...)
	seen := map[string]bool{}
	for _, s := range out {
		seen[s.Name] = true
	}
	for _, s := range decision.Builtins() {
		if !seen[s.Name] {
			out = append(out, s)
		}
	}
	return out
}

// newValidateCmd creates the "farmctl validate" subcommand.
func newValidateCmd() *cobra.Command {
	var (
		path   string
		schema string
	)
	cmd := &cobra.Command{
		Use:   "validate <file|->",
		Short: "Check a model reply against a decision schema",
		Long:  "Run a raw model reply (code fences allowed) through the same validator the worker uses.\nPrints the normalized decision, or the first violation.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := profile.Load(path)
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			if schema == "" {
				schema = p.ActiveSchema
			}
			s, err := p.Schema(schema)
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			var raw []byte
			if args[0] == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			d, err := decision.Validate([]byte(decision.StripFences(string(raw))), s)
			if err != nil {
				return fmt.Errorf("validate: %s: %w", s.Name, err)
			}
			d.Schema = s.Name
			return printJSON(cmd.OutOrStdout(), d)
		},
	}
	cmd.Flags().StringVar(&path, "profile", os.Getenv("PROFILE_PATH"), "profile YAML (defaults to the embedded profile)")
	cmd.Flags().StringVar(&schema, "schema", "", "schema name (defaults to the profile's active schema)")
	return cmd
}
