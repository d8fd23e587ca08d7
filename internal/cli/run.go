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
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newRunCommand(app func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage experimental runs",
	}

	var name string
	var params []string
	create := &cobra.Command{
		Use:   "create <profile>",
		Short: "Create a run from a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			parameters, err := parseParams(params)
			if err != nil {
				return err
			}
			runID, err := app().Engine.CreateRun(args[0], name, parameters)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), runID)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "run name (folded into the run ID)")
	create.Flags().StringArrayVarP(&params, "param", "p", nil, "initial parameter as name=value (repeatable)")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "start <run-id>",
		Short: "Start or resume a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			a := app()
			if err := promptPasswordIfNeeded(a, args[0]); err != nil {
				return err
			}
			return a.Engine.StartRun(args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pause <run-id>",
		Short: "Pause a running run (stops collectors)",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return app().Engine.PauseRun(args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "complete <run-id>",
		Short: "Complete a run and release its resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return app().Engine.CompleteRun(args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "exec <run-id> <command>",
		Short: "Execute a named profile command",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			a := app()
			if err := promptPasswordIfNeeded(a, args[0]); err != nil {
				return err
			}
			// The engine tracks activeness in memory; each CLI invocation
			// is a fresh process, so activate the run here.
			if err := a.Engine.StartRun(args[0]); err != nil {
				return err
			}
			result, err := a.Engine.ExecuteCommand(args[0], args[1])
			if err != nil {
				return err
			}
			out := c.OutOrStdout()
			fmt.Fprint(out, result.Stdout)
			fmt.Fprint(c.ErrOrStderr(), result.Stderr)
			for _, artifact := range result.Artifacts {
				fmt.Fprintf(out, "pulled %s -> %s\n", artifact.RemotePath, artifact.LocalPath)
			}
			if !result.Success {
				return fmt.Errorf("command %s failed with exit code %d", args[1], result.ExitCode)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "param <run-id> <name> <value>",
		Short: "Set a run parameter",
		Args:  cobra.ExactArgs(3),
		RunE: func(c *cobra.Command, args []string) error {
			return app().Engine.SetParameter(args[0], args[1], args[2])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "note <run-id> <text>",
		Short: "Record an operator note",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return app().Engine.AddNote(args[0], strings.Join(args[1:], " "))
		},
	})

	collector := &cobra.Command{
		Use:   "collector",
		Short: "Control background collectors",
	}
	collector.AddCommand(&cobra.Command{
		Use:   "run <run-id> <collector>",
		Short: "Run a collector in the foreground until interrupted",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			a := app()
			if err := promptPasswordIfNeeded(a, args[0]); err != nil {
				return err
			}
			if err := a.Engine.StartRun(args[0]); err != nil {
				return err
			}
			if err := a.Engine.StartCollector(args[0], args[1]); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			signal.Stop(sig)

			if err := a.Engine.StopCollector(args[0], args[1]); err != nil {
				return err
			}
			// The worker records collector_stopped on its way out.
			time.Sleep(500 * time.Millisecond)
			return nil
		},
	})
	cmd.AddCommand(collector)

	var afterSeq int64
	eventsCmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Print a run's events as JSONL",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			evs, err := app().Engine.GetEvents(args[0], afterSeq)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(c.OutOrStdout())
			for _, ev := range evs {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
	eventsCmd.Flags().Int64Var(&afterSeq, "after", 0, "only events with seq greater than this")
	cmd.AddCommand(eventsCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "export <run-id>",
		Short: "Archive a run directory as a zip",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			path, err := app().Engine.ExportRun(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(c *cobra.Command, args []string) error {
			runs, err := app().Engine.ListRuns()
			if err != nil {
				return err
			}
			for _, run := range runs {
				fmt.Fprintf(c.OutOrStdout(), "%-40s %-12s %s\n", run.RunID, run.Status, run.ProfileName)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return app().Engine.DeleteRun(args[0])
		},
	})

	return cmd
}

// parseParams turns repeated name=value flags into a map.
func parseParams(pairs []string) (map[string]string, error) {
	params := map[string]string{}
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected name=value", pair)
		}
		params[name] = value
	}
	return params, nil
}

// promptPasswordIfNeeded asks for an SSH password when the run's profile
// has no key file, no password, and no reachable agent, and stdin is a
// terminal. The password is injected into the loaded profile for this
// process only; profile serialization never includes it.
func promptPasswordIfNeeded(a *App, runID string) error {
	ctx, err := a.Engine.GetRunContext(runID)
	if err != nil {
		return err
	}
	conn := &ctx.Profile.Connection
	if conn.KeyFile != "" || conn.Password != "" || os.Getenv("SSH_AUTH_SOCK") != "" {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}

	fmt.Fprintf(os.Stderr, "password for %s@%s: ", conn.User, conn.Host)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	conn.Password = string(raw)
	return nil
}
