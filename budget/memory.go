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

package budget

import (
	"context"
	"sort"
	"sync"

	log "github.com/golang/glog"
)

type memoryEntry struct {
	mu        sync.Mutex
	spent     float64
	charges   int64
	maxBudget *float64
}

func (m *memoryEntry) snapshot(h Handle) Entry {
	var maxBudget *float64
	if m.maxBudget != nil {
		maxBudget = Float64(*m.maxBudget)
	}
	return Entry{
		Handle:    h,
		Spent:     m.spent,
		MaxBudget: maxBudget,
		Charges:   m.charges,
		State:     stateFor(m.spent, m.charges, m.maxBudget),
	}
}

// MemoryLedger is an in-process Ledger. Each handle has its own lock, so
// charges against different handles do not contend.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[Handle]*memoryEntry
}

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[Handle]*memoryEntry)}
}

func (l *MemoryLedger) entry(h Handle) *memoryEntry {
	l.mu.RLock()
	e, ok := l.entries[h]
	l.mu.RUnlock()
	if ok {
		return e
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[h]; ok {
		return e
	}
	e = &memoryEntry{}
	l.entries[h] = e
	return e
}

// Charge implements Ledger.
func (l *MemoryLedger) Charge(_ context.Context, handle Handle, epsilon float64, maxBudget *float64) (Entry, error) {
	if err := checkCharge(handle, epsilon, maxBudget); err != nil {
		return Entry{}, err
	}
	e := l.entry(handle)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !fits(e.spent, epsilon, maxBudget) {
		log.Warningf("Rejecting charge of ε=%g on dataset %q: spent %g of %g", epsilon, handle, e.spent, *maxBudget)
		return e.snapshot(handle), exceeded(handle, e.spent, epsilon, maxBudget)
	}
	e.spent += epsilon
	e.charges++
	if maxBudget != nil {
		e.maxBudget = Float64(*maxBudget)
	} else {
		e.maxBudget = nil
	}
	log.V(1).Infof("Charged ε=%g on dataset %q, spent %g after %d charges", epsilon, handle, e.spent, e.charges)
	return e.snapshot(handle), nil
}

// Entry implements Ledger.
func (l *MemoryLedger) Entry(_ context.Context, handle Handle) (Entry, error) {
	l.mu.RLock()
	e, ok := l.entries[handle]
	l.mu.RUnlock()
	if !ok {
		return Entry{Handle: handle, State: Fresh}, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(handle), nil
}

// Handles implements Ledger. Handles are returned in lexical order.
func (l *MemoryLedger) Handles(_ context.Context) ([]Handle, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	handles := make([]Handle, 0, len(l.entries))
	for h, e := range l.entries {
		e.mu.Lock()
		charged := e.charges > 0
		e.mu.Unlock()
		if charged {
			handles = append(handles, h)
		}
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles, nil
}
