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

package server

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/differential-privacy/dpengine/budget"
	"github.com/google/differential-privacy/dpengine/engine"
	"github.com/google/differential-privacy/dpengine/metrics"
	"github.com/google/differential-privacy/dpengine/records"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const testOrigin = "http://localhost:3000"

func newTestServer(t *testing.T, maxBudget *float64) (*Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	e, err := engine.New(&engine.Options{MaxBudget: maxBudget, Observer: m})
	if err != nil {
		t.Fatalf("engine.New: got err %v", err)
	}
	src := records.NewMemorySource(records.DefaultDataset, records.SamplePatients())
	return New(e, src, m, Options{CORSOrigin: testOrigin}), m
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("couldn't decode body %q: %v", rec.Body.String(), err)
	}
}

func TestRoot(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /: got status %d, want %d", rec.Code, http.StatusOK)
	}
	var got map[string]string
	decode(t, rec, &got)
	if want := "EHR Privacy API is running"; got["message"] != want {
		t.Errorf("GET /: got message %q, want %q", got["message"], want)
	}
}

func TestLabAverage(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/api/ehr/dp/lab_average?epsilon=0.5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("lab_average: got status %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body)
	}
	var got map[string]float64
	decode(t, rec, &got)
	if diff := cmp.Diff([]string{"dp_average", "epsilon"}, keys(got), cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("lab_average: response keys mismatch (-want +got):\n%s", diff)
	}
	if got["epsilon"] != 0.5 {
		t.Errorf("lab_average: got epsilon %f, want 0.5", got["epsilon"])
	}
	if math.IsNaN(got["dp_average"]) || math.IsInf(got["dp_average"], 0) {
		t.Errorf("lab_average: got dp_average %f, want a finite value", got["dp_average"])
	}
}

func TestLabAverageUsesDefaultEpsilon(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/api/ehr/dp/lab_average", "")
	var got map[string]float64
	decode(t, rec, &got)
	if got["epsilon"] != 1.0 {
		t.Errorf("lab_average: got epsilon %f, want 1.0", got["epsilon"])
	}
}

func keys(m map[string]float64) []string {
	var ks []string
	for k := range m {
		ks = append(ks, k)
	}
	return ks
}

func TestErrorStatus(t *testing.T) {
	for _, tc := range []struct {
		desc     string
		target   string
		wantCode int
	}{
		{"epsilon is not a number", "/api/ehr/dp/lab_average?epsilon=abc", http.StatusBadRequest},
		{"zero epsilon", "/api/ehr/dp/lab_average?epsilon=0", http.StatusBadRequest},
		{"negative epsilon", "/api/ehr/dp/lab_average?epsilon=-1", http.StatusBadRequest},
		{"infinite epsilon", "/api/ehr/dp/lab_average?epsilon=Inf", http.StatusBadRequest},
		{"unknown statistic", "/api/ehr/dp/median?epsilon=1", http.StatusBadRequest},
		{"alpha is not a number", "/api/ehr/dp/sum?epsilon=1&alpha=x", http.StatusBadRequest},
		{"unknown dataset", "/api/ehr/dp/lab_average?epsilon=1&dataset=visits", http.StatusNotFound},
		{"unknown route", "/api/ehr/nothing", http.StatusNotFound},
	} {
		s, _ := newTestServer(t, nil)
		rec := do(t, s, http.MethodGet, tc.target, "")
		if rec.Code != tc.wantCode {
			t.Errorf("GET %s: when %s got status %d, want %d", tc.target, tc.desc, rec.Code, tc.wantCode)
		}
	}
}

func TestExtremeLabResults(t *testing.T) {
	for _, tc := range []struct {
		desc        string
		target      string
		wantCode    int
		wantCharges int64
	}{
		{"average of values whose sum overflows", "/api/ehr/dp/lab_average?epsilon=1", http.StatusOK, 1},
		{"mean of values whose sum overflows", "/api/ehr/dp/mean?epsilon=1", http.StatusOK, 1},
		{"sum that overflows", "/api/ehr/dp/sum?epsilon=1", http.StatusBadRequest, 0},
	} {
		m := metrics.New()
		e, err := engine.New(&engine.Options{Observer: m})
		if err != nil {
			t.Fatalf("engine.New: got err %v", err)
		}
		src := records.NewMemorySource(records.DefaultDataset, []records.Patient{
			{Name: "Dana", Age: 50, Diagnosis: "Anemia", LabResult: 1e308},
			{Name: "Eli", Age: 61, Diagnosis: "Anemia", LabResult: 1e308},
		})
		s := New(e, src, m, Options{})
		rec := do(t, s, http.MethodGet, tc.target, "")
		if rec.Code != tc.wantCode {
			t.Errorf("GET %s: when %s got status %d, want %d, body %s", tc.target, tc.desc, rec.Code, tc.wantCode, rec.Body)
			continue
		}
		var body map[string]interface{}
		decode(t, rec, &body)
		if tc.wantCode == http.StatusBadRequest {
			if _, ok := body["error"]; !ok {
				t.Errorf("GET %s: when %s got body %v, want an error", tc.target, tc.desc, body)
			}
		}
		entry, err := e.Budget(context.Background(), budget.Handle(records.DefaultDataset))
		if err != nil {
			t.Fatalf("Budget: got err %v", err)
		}
		if entry.Charges != tc.wantCharges {
			t.Errorf("GET %s: when %s got %d charges, want %d", tc.target, tc.desc, entry.Charges, tc.wantCharges)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	for _, tc := range []struct {
		desc     string
		v        interface{}
		wantCode int
		wantKey  string
	}{
		{"finite value", map[string]float64{"dp_average": 1e308}, http.StatusOK, "dp_average"},
		{"infinite value", map[string]float64{"dp_average": math.Inf(1)}, http.StatusInternalServerError, "error"},
		{"NaN value", labAverageResponse{DPAverage: math.NaN(), Epsilon: 1}, http.StatusInternalServerError, "error"},
	} {
		rec := httptest.NewRecorder()
		writeJSON(rec, http.StatusOK, tc.v)
		if rec.Code != tc.wantCode {
			t.Errorf("writeJSON: when %s got status %d, want %d", tc.desc, rec.Code, tc.wantCode)
		}
		var got map[string]interface{}
		decode(t, rec, &got)
		if _, ok := got[tc.wantKey]; !ok {
			t.Errorf("writeJSON: when %s got body %v, want key %q", tc.desc, got, tc.wantKey)
		}
	}
}

func TestBudgetExceededIsTooManyRequests(t *testing.T) {
	s, _ := newTestServer(t, budget.Float64(1.0))
	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests, http.StatusOK} {
		eps := []string{"0.6", "0.6", "0.4"}[i]
		rec := do(t, s, http.MethodGet, "/api/ehr/dp/lab_average?epsilon="+eps, "")
		if rec.Code != want {
			t.Errorf("query %d with epsilon %s: got status %d, want %d", i, eps, rec.Code, want)
		}
		if want == http.StatusTooManyRequests {
			var got map[string]string
			decode(t, rec, &got)
			if !strings.Contains(got["error"], "budget") {
				t.Errorf("query %d: got error %q, want it to mention the budget", i, got["error"])
			}
		}
	}

	rec := do(t, s, http.MethodGet, "/api/ehr/budget/"+records.DefaultDataset, "")
	var entry struct {
		Spent   float64 `json:"spent"`
		Charges int64   `json:"charges"`
		State   string  `json:"state"`
	}
	decode(t, rec, &entry)
	if entry.Charges != 2 || math.Abs(entry.Spent-1.0) > 1e-9 || entry.State != "Exhausted" {
		t.Errorf("budget: got %+v, want 2 charges, spent 1.0, state Exhausted", entry)
	}
}

func TestStatistic(t *testing.T) {
	for _, kind := range []string{"mean", "sum", "count", "average"} {
		s, _ := newTestServer(t, nil)
		rec := do(t, s, http.MethodGet, "/api/ehr/dp/"+kind+"?epsilon=1&alpha=0.05", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: got status %d, want %d, body %s", kind, rec.Code, http.StatusOK, rec.Body)
		}
		var got struct {
			ID                 string  `json:"id"`
			Dataset            string  `json:"dataset"`
			Kind               string  `json:"kind"`
			Noise              string  `json:"noise"`
			Value              float64 `json:"value"`
			Epsilon            float64 `json:"epsilon"`
			ConfidenceInterval *struct {
				Lower, Upper float64
			} `json:"confidence_interval"`
		}
		decode(t, rec, &got)
		if got.ID == "" {
			t.Errorf("GET %s: got empty id", kind)
		}
		if got.Dataset != records.DefaultDataset || got.Noise != "laplace" || got.Epsilon != 1 {
			t.Errorf("GET %s: got %+v, want dataset %s, laplace noise and epsilon 1", kind, got, records.DefaultDataset)
		}
		if kind == "average" && got.Kind != "mean" {
			t.Errorf("GET average: got kind %q, want mean", got.Kind)
		}
		if ci := got.ConfidenceInterval; ci == nil {
			t.Errorf("GET %s: got no confidence interval", kind)
		} else if !(ci.Lower < got.Value && got.Value < ci.Upper) {
			t.Errorf("GET %s: got interval [%f, %f] not containing %f", kind, ci.Lower, ci.Upper, got.Value)
		}
	}
}

func TestDatasets(t *testing.T) {
	s, _ := newTestServer(t, nil)
	do(t, s, http.MethodGet, "/api/ehr/dp/count?epsilon=0.1", "")
	rec := do(t, s, http.MethodGet, "/api/ehr/budget", "")
	var got map[string][]string
	decode(t, rec, &got)
	if diff := cmp.Diff([]string{records.DefaultDataset}, got["datasets"]); diff != "" {
		t.Errorf("budget: datasets mismatch (-want +got):\n%s", diff)
	}
}

func TestFreshBudget(t *testing.T) {
	s, _ := newTestServer(t, budget.Float64(2))
	rec := do(t, s, http.MethodGet, "/api/ehr/budget/unqueried", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("budget: got status %d, want %d", rec.Code, http.StatusOK)
	}
	var got map[string]interface{}
	decode(t, rec, &got)
	if got["state"] != "Fresh" || got["spent"] != 0.0 {
		t.Errorf("budget: got %v, want a fresh entry", got)
	}
}

func TestAddAndListPatients(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodPost, "/api/ehr/add", `{"name":"Dana","age":51,"diagnosis":"Anemia","lab_result":88.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("add: got status %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body)
	}
	var added map[string]string
	decode(t, rec, &added)
	if added["id"] == "" {
		t.Fatalf("add: got empty id")
	}

	rec = do(t, s, http.MethodGet, "/api/ehr/all", "")
	var patients []records.Patient
	decode(t, rec, &patients)
	if len(patients) != 4 {
		t.Fatalf("all: got %d patients, want 4", len(patients))
	}
	want := records.Patient{ID: added["id"], Name: "Dana", Age: 51, Diagnosis: "Anemia", LabResult: 88.5}
	if diff := cmp.Diff(want, patients[3]); diff != "" {
		t.Errorf("all: added patient mismatch (-want +got):\n%s", diff)
	}
}

func TestAddPatientRejectsBadInput(t *testing.T) {
	for _, tc := range []struct {
		desc string
		body string
	}{
		{"malformed JSON", `{"name":`},
		{"unknown field", `{"name":"Dana","age":51,"blood_type":"A"}`},
		{"empty name", `{"name":"","age":51}`},
		{"negative age", `{"name":"Dana","age":-3}`},
	} {
		s, _ := newTestServer(t, nil)
		if rec := do(t, s, http.MethodPost, "/api/ehr/add", tc.body); rec.Code != http.StatusBadRequest {
			t.Errorf("add: when %s got status %d, want %d", tc.desc, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestPatientsNeedAPatientStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patients.csv")
	if err := os.WriteFile(path, []byte("name,lab_result\nAlice,120.5\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	e, err := engine.New(nil)
	if err != nil {
		t.Fatalf("engine.New: got err %v", err)
	}
	s := New(e, &records.CSVSource{Path: path, Dataset: records.DefaultDataset}, nil, Options{})

	if rec := do(t, s, http.MethodGet, "/api/ehr/all", ""); rec.Code != http.StatusNotImplemented {
		t.Errorf("all: got status %d, want %d", rec.Code, http.StatusNotImplemented)
	}
	if rec := do(t, s, http.MethodGet, "/api/ehr/dp/lab_average?epsilon=1", ""); rec.Code != http.StatusOK {
		t.Errorf("lab_average: got status %d, want %d, body %s", rec.Code, http.StatusOK, rec.Body)
	}
	if rec := do(t, s, http.MethodGet, "/metrics", ""); rec.Code != http.StatusNotFound {
		t.Errorf("metrics without Metrics: got status %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, http.MethodOptions, "/api/ehr/dp/lab_average", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight: got status %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Errorf("preflight: got Access-Control-Allow-Origin %q, want %q", got, testOrigin)
	}
	// A preflight request is not a query and charges nothing.
	rec = do(t, s, http.MethodGet, "/api/ehr/budget", "")
	var got map[string][]string
	decode(t, rec, &got)
	if len(got["datasets"]) != 0 {
		t.Errorf("budget after preflight: got datasets %v, want none", got["datasets"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, budget.Float64(1))
	do(t, s, http.MethodGet, "/api/ehr/dp/lab_average?epsilon=0.75", "")
	do(t, s, http.MethodGet, "/api/ehr/dp/lab_average?epsilon=0.75", "")

	rec := do(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: got status %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`dpengine_queries_total{dataset="patients",kind="mean",outcome="released"} 1`,
		`dpengine_queries_total{dataset="patients",kind="mean",outcome="budget_exceeded"} 1`,
		`dpengine_budget_spent{dataset="patients"} 0.75`,
		`dpengine_http_requests_total{code="429",route="/api/ehr/dp/lab_average"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics: missing %q", want)
		}
	}
}
