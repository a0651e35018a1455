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

package records

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestMemorySource(t *testing.T) {
	ctx := context.Background()
	m := NewMemorySource(DefaultDataset, SamplePatients())

	got, err := m.Values(ctx, DefaultDataset)
	if err != nil {
		t.Fatalf("Values: got err %v", err)
	}
	if diff := cmp.Diff([]float64{120.5, 135.0, 98.0}, got); diff != "" {
		t.Errorf("Values: got diff (-want +got):\n%s", diff)
	}

	id, err := m.AddPatient(ctx, Patient{Name: "Dana", Age: 51, Diagnosis: "Anemia", LabResult: 88})
	if err != nil {
		t.Fatalf("AddPatient: got err %v", err)
	}
	if id == "" {
		t.Errorf("AddPatient: got empty id")
	}
	patients, err := m.ListPatients(ctx)
	if err != nil {
		t.Fatalf("ListPatients: got err %v", err)
	}
	want := append(SamplePatients(), Patient{Name: "Dana", Age: 51, Diagnosis: "Anemia", LabResult: 88})
	if diff := cmp.Diff(want, patients, cmpopts.IgnoreFields(Patient{}, "ID")); diff != "" {
		t.Errorf("ListPatients: got diff (-want +got):\n%s", diff)
	}
	for _, p := range patients {
		if p.ID == "" {
			t.Errorf("ListPatients: patient %s has no ID", p.Name)
		}
	}

	if _, err := m.Values(ctx, "unknown"); !errors.Is(err, ErrUnknownDataset) {
		t.Errorf("Values(unknown): got err %v, want ErrUnknownDataset", err)
	}
	m.Put("empty", nil)
	if got, err := m.Values(ctx, "empty"); err != nil || len(got) != 0 {
		t.Errorf("Values(empty): got (%v, %v), want no values and no error", got, err)
	}
}

func TestPatientValidate(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		p       Patient
		wantErr bool
	}{
		{"valid", Patient{Name: "Alice", Age: 32, LabResult: 120.5}, false},
		{"empty name", Patient{Name: " ", Age: 32}, true},
		{"negative age", Patient{Name: "Bob", Age: -1}, true},
		{"NaN lab result", Patient{Name: "Bob", Age: 3, LabResult: math.NaN()}, true},
		{"infinite lab result", Patient{Name: "Bob", Age: 3, LabResult: math.Inf(-1)}, true},
	} {
		if err := tc.p.Validate(); (err != nil) != tc.wantErr {
			t.Errorf("Validate: when %s got err %v, want err %t", tc.desc, err, tc.wantErr)
		}
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patients.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestCSVSource(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		desc    string
		content string
		column  string
		want    []float64
		wantErr bool
	}{
		{
			desc:    "default column",
			content: "name,age,diagnosis,lab_result\nAlice,32,Diabetes,120.5\nBob,45,Hypertension,135.0\nCharlie,29,Asthma,98.0\n",
			want:    []float64{120.5, 135.0, 98.0},
		},
		{
			desc:    "named column with blanks",
			content: "name,glucose\nAlice,5.5\nBob,\nCharlie,7\n",
			column:  "glucose",
			want:    []float64{5.5, 7},
		},
		{
			desc:    "header only",
			content: "name,lab_result\n",
			want:    []float64{},
		},
		{
			desc:    "missing column",
			content: "name,age\nAlice,32\n",
			wantErr: true,
		},
		{
			desc:    "non-numeric cell",
			content: "name,lab_result\nAlice,high\n",
			wantErr: true,
		},
		{
			desc:    "ragged row",
			content: "name,lab_result\nAlice,1,extra\n",
			wantErr: true,
		},
		{
			desc:    "empty file",
			content: "",
			wantErr: true,
		},
	} {
		src := &CSVSource{Path: writeFile(t, tc.content), Column: tc.column, Dataset: DefaultDataset}
		got, err := src.Values(ctx, DefaultDataset)
		if (err != nil) != tc.wantErr {
			t.Errorf("Values: when %s got err %v, want err %t", tc.desc, err, tc.wantErr)
			continue
		}
		if tc.wantErr {
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("Values: when %s got diff (-want +got):\n%s", tc.desc, diff)
		}
	}
}

func TestCSVSourceErrors(t *testing.T) {
	ctx := context.Background()
	src := &CSVSource{Path: filepath.Join(t.TempDir(), "missing.csv"), Dataset: DefaultDataset}
	if _, err := src.Values(ctx, DefaultDataset); err == nil {
		t.Errorf("Values on missing file: got nil err, want error")
	}
	if _, err := src.Values(ctx, "other"); !errors.Is(err, ErrUnknownDataset) {
		t.Errorf("Values(other): got err %v, want ErrUnknownDataset", err)
	}
}
