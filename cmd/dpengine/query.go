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
	"fmt"
	"io"

	"github.com/google/differential-privacy/dpengine/aggregate"
	"github.com/google/differential-privacy/dpengine/budget"
	"github.com/google/differential-privacy/dpengine/config"
	"github.com/google/differential-privacy/dpengine/engine"
	"github.com/spf13/cobra"
)

type queryOptions struct {
	Kind    string
	Epsilon float64
	Alpha   float64
}

func newQueryCmd(cfg func() *config.Config) *cobra.Command {
	opts := &queryOptions{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Release one noisy statistic and print it as JSON",
		Example: `  # Noisy mean of the lab results in a CSV file
  dpengine query --kind=mean --epsilon=0.5 --source=csv --csv_path=patients.csv

  # Noisy count with a 95% confidence interval
  dpengine query --kind=count --epsilon=1 --alpha=0.05`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQuery(cmd.Context(), cmd.OutOrStdout(), cfg(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.Kind, "kind", "mean", "Statistic: mean, sum or count")
	cmd.Flags().Float64Var(&opts.Epsilon, "epsilon", 0, "Privacy loss charged for the query; defaults to default_epsilon")
	cmd.Flags().Float64Var(&opts.Alpha, "alpha", 0, "If set, also print a 1-alpha confidence interval")
	return cmd
}

type queryOutput struct {
	*engine.NoisyResult
	Kind     string              `json:"kind"`
	Noise    string              `json:"noise"`
	Interval *confidenceInterval `json:"confidence_interval,omitempty"`
}

type confidenceInterval struct {
	Alpha float64 `json:"alpha"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

func runQuery(ctx context.Context, out io.Writer, cfg *config.Config, opts *queryOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	kind, err := aggregate.ParseKind(opts.Kind)
	if err != nil {
		return err
	}
	epsilon := opts.Epsilon
	if epsilon == 0 {
		epsilon = cfg.DefaultEpsilon
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	values, err := a.source.Values(ctx, cfg.Dataset)
	if err != nil {
		return err
	}
	res, err := a.engine.Query(ctx, engine.Request{
		Handle:  budget.Handle(cfg.Dataset),
		Values:  values,
		Kind:    kind,
		Epsilon: epsilon,
	})
	if err != nil {
		return err
	}
	o := queryOutput{NoisyResult: res, Kind: res.Kind.String(), Noise: res.Noise.String()}
	if opts.Alpha != 0 {
		ci, err := res.ConfidenceInterval(opts.Alpha)
		if err != nil {
			return fmt.Errorf("released %v but couldn't compute its confidence interval: %w", res.Value, err)
		}
		o.Interval = &confidenceInterval{Alpha: opts.Alpha, Lower: ci.LowerBound, Upper: ci.UpperBound}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(o)
}
