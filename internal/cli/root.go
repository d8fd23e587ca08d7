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

// Package cli provides the cobra command tree over the run engine. The CLI
// is thin glue: every subcommand resolves the shared App and calls one
// engine or store operation.
package cli

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tombee/fieldrun/internal/engine"
	"github.com/tombee/fieldrun/internal/log"
	"github.com/tombee/fieldrun/internal/profile"
	"github.com/tombee/fieldrun/internal/storage"
)

// App bundles the wired subsystems for command handlers.
type App struct {
	Home     string
	Logger   *slog.Logger
	Profiles *profile.Store
	Storage  *storage.Manager
	Engine   *engine.Engine
}

// NewApp wires the profile store, run storage, and engine under the given
// home directory. An empty home resolves FIELDRUN_HOME, then ~/.fieldrun.
func NewApp(home string) (*App, error) {
	if home == "" {
		home = os.Getenv("FIELDRUN_HOME")
	}
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		home = filepath.Join(userHome, ".fieldrun")
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	profiles, err := profile.NewStore(filepath.Join(home, "profiles"), logger)
	if err != nil {
		return nil, err
	}
	manager, err := storage.NewManager(filepath.Join(home, "runs"))
	if err != nil {
		return nil, err
	}

	return &App{
		Home:     home,
		Logger:   logger,
		Profiles: profiles,
		Storage:  manager,
		Engine:   engine.New(manager, profiles, logger),
	}, nil
}

// Close releases the app's resources.
func (a *App) Close() {
	a.Profiles.Close() //nolint:errcheck
}

// NewRootCommand builds the fieldrun command tree.
func NewRootCommand() *cobra.Command {
	var home string
	var app *App

	root := &cobra.Command{
		Use:   "fieldrun",
		Short: "Orchestrate field experiments on remote embedded targets",
		Long: `fieldrun drives experimental runs against remote embedded Linux
targets: named commands on the controller or the target over SSH, periodic
background collectors, artifact retrieval, and an append-only per-run event
log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			app, err = NewApp(home)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app != nil {
				app.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "fieldrun home directory (default $FIELDRUN_HOME or ~/.fieldrun)")

	appRef := func() *App { return app }
	root.AddCommand(newProfilesCommand(appRef))
	root.AddCommand(newRunCommand(appRef))
	return root
}
