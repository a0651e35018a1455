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
	"fmt"

	log "github.com/golang/glog"
	"github.com/google/differential-privacy/dpengine/budget"
	"github.com/google/differential-privacy/dpengine/config"
	"github.com/google/differential-privacy/dpengine/engine"
	"github.com/google/differential-privacy/dpengine/metrics"
	"github.com/google/differential-privacy/dpengine/records"
)

// app holds the components built from a configuration.
type app struct {
	cfg     *config.Config
	ledger  budget.Ledger
	source  records.Source
	engine  *engine.Engine
	metrics *metrics.Metrics

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	var err error
	if a.ledger, err = a.newLedger(ctx); err != nil {
		return err
	}
	if a.source, err = a.newSource(ctx); err != nil {
		return err
	}
	opts := a.cfg.EngineOptions()
	opts.Ledger = a.ledger
	opts.Observer = a.metrics
	a.engine, err = engine.New(opts)
	return err
}

func (a *app) newLedger(ctx context.Context) (budget.Ledger, error) {
	switch a.cfg.Ledger.Backend {
	case config.BackendRedis:
		l, err := budget.NewRedisLedger(&a.cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, l.Close)
		if err := l.Ping(ctx); err != nil {
			return nil, err
		}
		log.Infof("Recording privacy budget in redis at %s", a.cfg.Redis.Addr)
		return l, nil
	case config.BackendMemory:
		log.Warningf("Recording privacy budget in memory: spend is lost on restart")
		return budget.NewMemoryLedger(), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", a.cfg.Ledger.Backend)
	}
}

func (a *app) newSource(ctx context.Context) (records.Source, error) {
	switch a.cfg.Source.Backend {
	case config.BackendCSV:
		return &records.CSVSource{Path: a.cfg.Source.CSVPath, Column: a.cfg.Source.CSVColumn, Dataset: a.cfg.Dataset}, nil
	case config.BackendPostgres:
		src, err := records.OpenPostgres(ctx, a.cfg.PostgresConfig())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, src.Close)
		if err := src.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return src, nil
	case config.BackendMemory:
		return records.NewMemorySource(a.cfg.Dataset, records.SamplePatients()), nil
	default:
		return nil, fmt.Errorf("unknown source backend %q", a.cfg.Source.Backend)
	}
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warningf("Couldn't close: %v", err)
		}
	}
	a.closers = nil
}
