//
// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/google/differential-privacy/dpengine/budget"
	"github.com/google/differential-privacy/dpengine/config"
	"github.com/spf13/cobra"
)

func newBudgetCmd(cfg func() *config.Config) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Print the privacy budget spent on a dataset",
		Long: `Print the ledger entry of --dataset, or of every charged dataset with --all.
Only a shared ledger such as redis remembers spend between invocations.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBudget(cmd.Context(), cmd.OutOrStdout(), cfg(), all)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Print every charged dataset")
	return cmd
}

func runBudget(ctx context.Context, out io.Writer, cfg *config.Config, all bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	handles := []budget.Handle{budget.Handle(cfg.Dataset)}
	if all {
		if handles, err = a.engine.Datasets(ctx); err != nil {
			return err
		}
	}
	entries := make([]budget.Entry, 0, len(handles))
	for _, h := range handles {
		e, err := a.engine.Budget(ctx, h)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if all {
		return enc.Encode(entries)
	}
	return enc.Encode(entries[0])
}
