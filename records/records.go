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

// Package records supplies the numeric values the engine aggregates. It owns
// all blocking I/O, which happens before a query reaches the engine.
package records

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnknownDataset is returned when a source does not serve a dataset.
var ErrUnknownDataset = errors.New("unknown dataset")

// DefaultDataset is the name under which the patient records are served.
const DefaultDataset = "patients"

// Source returns the values of a dataset.
type Source interface {
	// Values returns the lab results of dataset. Records without a result
	// are omitted.
	Values(ctx context.Context, dataset string) ([]float64, error)
}

// Patient is a single electronic health record.
type Patient struct {
	ID        string  `json:"_id,omitempty"`
	Name      string  `json:"name"`
	Age       int     `json:"age"`
	Diagnosis string  `json:"diagnosis"`
	LabResult float64 `json:"lab_result"`
}

// Validate returns an error if p cannot be stored.
func (p Patient) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("patient name must not be empty")
	}
	if p.Age < 0 || p.Age > 150 {
		return fmt.Errorf("patient age is %d, must be within [0, 150]", p.Age)
	}
	if math.IsNaN(p.LabResult) || math.IsInf(p.LabResult, 0) {
		return fmt.Errorf("patient lab result is %v, must be finite", p.LabResult)
	}
	return nil
}

// PatientStore is implemented by sources that can also list and add full
// patient records.
type PatientStore interface {
	// AddPatient stores p and returns its ID.
	AddPatient(ctx context.Context, p Patient) (string, error)
	// ListPatients returns every stored patient.
	ListPatients(ctx context.Context) ([]Patient, error)
}

// SamplePatients returns the demo records loaded into a fresh store.
func SamplePatients() []Patient {
	return []Patient{
		{Name: "Alice", Age: 32, Diagnosis: "Diabetes", LabResult: 120.5},
		{Name: "Bob", Age: 45, Diagnosis: "Hypertension", LabResult: 135.0},
		{Name: "Charlie", Age: 29, Diagnosis: "Asthma", LabResult: 98.0},
	}
}

func unknownDataset(dataset string) error {
	return fmt.Errorf("%w %q", ErrUnknownDataset, dataset)
}
