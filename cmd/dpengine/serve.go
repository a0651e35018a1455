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
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/golang/glog"
	"github.com/google/differential-privacy/dpengine/config"
	"github.com/google/differential-privacy/dpengine/records"
	"github.com/google/differential-privacy/dpengine/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type serveOptions struct {
	Addr          string
	Seed          bool
	BudgetRefresh time.Duration
}

func newServeCmd(cfg func() *config.Config) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Example: `  # Serve the demo records with a budget of 5 per dataset
  dpengine serve --max_budget=5

  # Share the budget between replicas through redis
  dpengine serve --ledger=redis --redis_addr=redis:6379 --source=postgres --postgres_dsn=postgres://ehr@db/ehr`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address, overrides http.addr")
	cmd.Flags().BoolVar(&opts.Seed, "seed", false, "Insert the sample patients into an empty postgres table")
	cmd.Flags().DurationVar(&opts.BudgetRefresh, "budget_refresh", 30*time.Second, "How often budget gauges are reloaded from the ledger; 0 disables")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, opts *serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.Seed {
		if pg, ok := a.source.(*records.PostgresSource); ok {
			if err := pg.Seed(ctx, records.SamplePatients()); err != nil {
				return err
			}
		} else {
			log.Warningf("--seed only applies to the postgres source, ignoring it")
		}
	}

	addr := cfg.HTTP.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	srv := server.New(a.engine, a.source, a.metrics, server.Options{
		Dataset:         cfg.Dataset,
		DefaultEpsilon:  cfg.DefaultEpsilon,
		CORSOrigin:      cfg.HTTP.CORSOrigin,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, addr)
	})
	if opts.BudgetRefresh > 0 {
		g.Go(func() error {
			refreshBudgetGauges(ctx, a, opts.BudgetRefresh)
			return nil
		})
	}
	return g.Wait()
}

// refreshBudgetGauges reloads every dataset's entry into the metrics, so that
// replicas sharing a ledger report the same spend.
func refreshBudgetGauges(ctx context.Context, a *app, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		handles, err := a.engine.Datasets(ctx)
		if err != nil {
			log.Warningf("Couldn't list datasets: %v", err)
			continue
		}
		for _, h := range handles {
			entry, err := a.engine.Budget(ctx, h)
			if err != nil {
				log.Warningf("Couldn't read budget of %q: %v", h, err)
				continue
			}
			a.metrics.ObserveSpend(entry)
		}
	}
}
