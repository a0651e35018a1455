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
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	log "github.com/golang/glog"
	"github.com/lib/pq"
)

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PostgresConfig names the table holding patients and its numeric column.
type PostgresConfig struct {
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
	Column  string `mapstructure:"column"`
	Dataset string `mapstructure:"dataset"`
}

// PostgresSource reads lab results from a PostgreSQL table and stores new
// patients in it.
type PostgresSource struct {
	db      *sql.DB
	dataset string

	valuesQuery string
	listQuery   string
	insertQuery string
	schemaQuery string
}

// OpenPostgres connects to cfg.DSN with the lib/pq driver and verifies the
// connection.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresSource, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}
	connector, err := pq.NewConnector(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("couldn't reach postgres: %w", err)
	}
	src, err := NewPostgresSource(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Infof("Reading dataset %q from postgres table %s", src.dataset, cfg.Table)
	return src, nil
}

// NewPostgresSource wraps an open database. Table and column names are
// validated and quoted; they default to "patients" and "lab_result".
func NewPostgresSource(db *sql.DB, cfg PostgresConfig) (*PostgresSource, error) {
	if cfg.Table == "" {
		cfg.Table = "patients"
	}
	if cfg.Column == "" {
		cfg.Column = DefaultColumn
	}
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	for _, id := range []string{cfg.Table, cfg.Column} {
		if !identifierRE.MatchString(id) {
			return nil, fmt.Errorf("invalid sql identifier %q", id)
		}
	}
	table, column := pq.QuoteIdentifier(cfg.Table), pq.QuoteIdentifier(cfg.Column)
	return &PostgresSource{
		db:          db,
		dataset:     cfg.Dataset,
		valuesQuery: fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL", column, table, column),
		listQuery:   fmt.Sprintf("SELECT id, name, age, diagnosis, %s FROM %s ORDER BY id", column, table),
		insertQuery: fmt.Sprintf("INSERT INTO %s (name, age, diagnosis, %s) VALUES ($1, $2, $3, $4) RETURNING id", table, column),
		schemaQuery: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id BIGSERIAL PRIMARY KEY, name TEXT NOT NULL, age INTEGER NOT NULL, diagnosis TEXT NOT NULL, %s DOUBLE PRECISION)", table, column),
	}, nil
}

// EnsureSchema creates the patients table if it does not exist.
func (p *PostgresSource) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, p.schemaQuery); err != nil {
		return fmt.Errorf("couldn't create patients table: %w", err)
	}
	return nil
}

// Close closes the database.
func (p *PostgresSource) Close() error {
	return p.db.Close()
}

// Values implements Source.
func (p *PostgresSource) Values(ctx context.Context, dataset string) ([]float64, error) {
	if dataset != p.dataset {
		return nil, unknownDataset(dataset)
	}
	rows, err := p.db.QueryContext(ctx, p.valuesQuery)
	if err != nil {
		return nil, fmt.Errorf("couldn't query lab results: %w", err)
	}
	defer rows.Close()

	values := make([]float64, 0)
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("couldn't scan lab result: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("couldn't read lab results: %w", err)
	}
	return values, nil
}

// AddPatient implements PatientStore.
func (p *PostgresSource) AddPatient(ctx context.Context, pt Patient) (string, error) {
	if err := pt.Validate(); err != nil {
		return "", err
	}
	var id int64
	if err := p.db.QueryRowContext(ctx, p.insertQuery, pt.Name, pt.Age, pt.Diagnosis, pt.LabResult).Scan(&id); err != nil {
		return "", fmt.Errorf("couldn't insert patient: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// ListPatients implements PatientStore. Patients without a lab result are
// listed with a zero result.
func (p *PostgresSource) ListPatients(ctx context.Context) ([]Patient, error) {
	rows, err := p.db.QueryContext(ctx, p.listQuery)
	if err != nil {
		return nil, fmt.Errorf("couldn't list patients: %w", err)
	}
	defer rows.Close()

	patients := make([]Patient, 0)
	for rows.Next() {
		var (
			id  int64
			pt  Patient
			lab sql.NullFloat64
		)
		if err := rows.Scan(&id, &pt.Name, &pt.Age, &pt.Diagnosis, &lab); err != nil {
			return nil, fmt.Errorf("couldn't scan patient: %w", err)
		}
		pt.ID = strconv.FormatInt(id, 10)
		pt.LabResult = lab.Float64
		patients = append(patients, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("couldn't read patients: %w", err)
	}
	return patients, nil
}

// Seed inserts patients if the table is empty.
func (p *PostgresSource) Seed(ctx context.Context, patients []Patient) error {
	existing, err := p.ListPatients(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, pt := range patients {
		if _, err := p.AddPatient(ctx, pt); err != nil {
			return err
		}
	}
	log.Infof("Seeded %d patients", len(patients))
	return nil
}
