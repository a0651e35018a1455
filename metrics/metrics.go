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

// Package metrics exports query outcomes and privacy spend as Prometheus
// metrics. Only released parameters are exported, never raw statistics.
package metrics

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/differential-privacy/dpengine/aggregate"
	"github.com/google/differential-privacy/dpengine/budget"
	"github.com/google/differential-privacy/dpengine/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dpengine"

// Outcome labels.
const (
	OutcomeReleased         = "released"
	OutcomeInvalidParameter = "invalid_parameter"
	OutcomeBudgetExceeded   = "budget_exceeded"
	OutcomeRandomness       = "randomness_failure"
	OutcomeError            = "error"
)

// Metrics implements engine.Observer on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	queries        *prometheus.CounterVec
	epsilonCharged *prometheus.CounterVec
	spent          *prometheus.GaugeVec
	remaining      *prometheus.GaugeVec
	httpRequests   *prometheus.CounterVec
}

var _ engine.Observer = (*Metrics)(nil)

// New returns Metrics registered on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries by dataset, statistic and outcome.",
		}, []string{"dataset", "kind", "outcome"}),
		epsilonCharged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epsilon_charged_total",
			Help:      "Sum of epsilon charged to each dataset by accepted queries.",
		}, []string{"dataset"}),
		spent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_spent",
			Help:      "Cumulative privacy budget spent per dataset, as recorded by the ledger.",
		}, []string{"dataset"}),
		remaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_remaining",
			Help:      "Privacy budget left per dataset; +Inf without a maximum.",
		}, []string{"dataset"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
	m.registry.MustRegister(
		m.queries, m.epsilonCharged, m.spent, m.remaining, m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Outcome classifies a query error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeReleased
	case errors.Is(err, engine.ErrInvalidParameter):
		return OutcomeInvalidParameter
	case errors.Is(err, engine.ErrBudgetExceeded):
		return OutcomeBudgetExceeded
	case errors.Is(err, engine.ErrRandomnessSource):
		return OutcomeRandomness
	default:
		return OutcomeError
	}
}

// ObserveQuery implements engine.Observer.
func (m *Metrics) ObserveQuery(handle budget.Handle, kind aggregate.Kind, epsilon float64, err error) {
	outcome := Outcome(err)
	m.queries.WithLabelValues(string(handle), kind.String(), outcome).Inc()
	// A randomness failure happens after the charge, which stands.
	if outcome == OutcomeReleased || outcome == OutcomeRandomness {
		m.epsilonCharged.WithLabelValues(string(handle)).Add(epsilon)
	}
}

// ObserveSpend implements engine.Observer.
func (m *Metrics) ObserveSpend(e budget.Entry) {
	m.spent.WithLabelValues(string(e.Handle)).Set(e.Spent)
	m.remaining.WithLabelValues(string(e.Handle)).Set(e.Remaining())
}

// ObserveHTTP counts a served HTTP request.
func (m *Metrics) ObserveHTTP(route string, code int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
