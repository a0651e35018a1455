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
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DefaultColumn is the column holding the lab results.
const DefaultColumn = "lab_result"

// CSVSource reads one numeric column of a CSV file with a header line. The
// file is re-read on every call, so edits are picked up without a restart.
type CSVSource struct {
	Path    string
	Column  string
	Dataset string
}

// Values implements Source. Empty cells are skipped.
func (c *CSVSource) Values(_ context.Context, dataset string) ([]float64, error) {
	if dataset != c.Dataset {
		return nil, unknownDataset(dataset)
	}
	csvFile, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open the csv file = %q, err = %v", c.Path, err)
	}
	defer csvFile.Close()
	return readColumn(csvFile, c.Path, c.column())
}

func (c *CSVSource) column() string {
	if c.Column == "" {
		return DefaultColumn
	}
	return c.Column
}

func readColumn(r io.Reader, name, column string) ([]float64, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("the csv file = %q is empty, want a header line", name)
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't read the csv file = %q, err = %v", name, err)
	}
	idx := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), column) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("the csv file = %q has no column %q, header is %v", name, column, header)
	}

	values := make([]float64, 0)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("couldn't read the csv file = %q, err = %v", name, err)
		}
		cell := strings.TrimSpace(record[idx])
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, fmt.Errorf("couldn't read %s = %s as float64 on line %d of the csv file = %q, err = %v", column, cell, line, name, err)
		}
		values = append(values, v)
	}
	return values, nil
}
