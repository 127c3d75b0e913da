// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fedquery/engine/pkg/cmd/query"
	"github.com/fedquery/engine/pkg/cmd/util"
)

// NewCmd creates the root command.
func NewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fedq",
		Short: "Federated query execution runtime",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
}

// AddFedqCommands adds all subcommands to the root command.
func AddFedqCommands(cmd *cobra.Command) {
	cmd.AddCommand(query.NewCmdQuery())
}

// Run runs the root command.
func Run() {
	cmd := NewCmd()
	AddFedqCommands(cmd)
	util.CheckErr(cmd.Execute())
}
