// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tombee/fieldrun/internal/profile"
)

func newProfilesCommand(app func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage target profiles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available profiles",
		RunE: func(c *cobra.Command, args []string) error {
			names, err := app().Profiles.List()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(c.OutOrStdout(), name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Show a profile's commands and collectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			p, err := app().Profiles.Load(args[0])
			if err != nil {
				return err
			}
			out := c.OutOrStdout()
			fmt.Fprintf(out, "%s — %s\n", p.Name, p.Description)
			fmt.Fprintf(out, "target: %s@%s:%d\n\n", p.Connection.User, p.Connection.Host, p.Connection.Port)

			fmt.Fprintln(out, "commands:")
			for _, name := range sortedCommandNames(p) {
				cmdDef := p.Commands[name]
				fmt.Fprintf(out, "  %-20s [%s] %s\n", name, cmdDef.Run, cmdDef.Description)
				if params := profile.CommandParameters(cmdDef); len(params) > 0 {
					fmt.Fprintf(out, "  %-20s parameters: %v\n", "", params)
				}
			}

			if len(p.Collectors) > 0 {
				fmt.Fprintln(out, "collectors:")
				for _, name := range sortedCollectorNames(p) {
					coll := p.Collectors[name]
					fmt.Fprintf(out, "  %-20s [%s] every %ds\n", name, coll.Run, coll.Interval)
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return app().Profiles.Delete(args[0])
		},
	})

	return cmd
}

func sortedCommandNames(p *profile.Profile) []string {
	names := make([]string, 0, len(p.Commands))
	for name := range p.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedCollectorNames(p *profile.Profile) []string {
	names := make([]string, 0, len(p.Collectors))
	for name := range p.Collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
