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
	"sync"

	"github.com/google/uuid"
)

// MemorySource keeps patients in memory, grouped by dataset. It is safe for
// concurrent use.
type MemorySource struct {
	mu       sync.RWMutex
	dataset  string
	datasets map[string][]Patient
}

// NewMemorySource returns a source serving the given patients as dataset.
// Further datasets can be added with Put.
func NewMemorySource(dataset string, patients []Patient) *MemorySource {
	m := &MemorySource{dataset: dataset, datasets: make(map[string][]Patient)}
	m.Put(dataset, patients)
	return m
}

// Put replaces the patients of dataset. Patients without an ID get one.
func (m *MemorySource) Put(dataset string, patients []Patient) {
	cp := make([]Patient, len(patients))
	for i, p := range patients {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		cp[i] = p
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[dataset] = cp
}

// Values implements Source.
func (m *MemorySource) Values(_ context.Context, dataset string) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	patients, ok := m.datasets[dataset]
	if !ok {
		return nil, unknownDataset(dataset)
	}
	values := make([]float64, len(patients))
	for i, p := range patients {
		values[i] = p.LabResult
	}
	return values, nil
}

// AddPatient implements PatientStore. Patients are added to the dataset the
// source was created with.
func (m *MemorySource) AddPatient(_ context.Context, p Patient) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	p.ID = uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[m.dataset] = append(m.datasets[m.dataset], p)
	return p.ID, nil
}

// ListPatients implements PatientStore.
func (m *MemorySource) ListPatients(_ context.Context) ([]Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Patient(nil), m.datasets[m.dataset]...), nil
}
