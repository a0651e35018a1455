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

// dpengine releases differentially private statistics over patient records.
// Usage examples:
//
//	dpengine serve --addr=127.0.0.1:8000 --max_budget=5
//	dpengine query --kind=mean --epsilon=0.5 --source=csv --csv_path=patients.csv
//	DPENGINE_LEDGER_BACKEND=redis dpengine budget --dataset=patients
//
// Settings are read from --config, then DPENGINE_* environment variables,
// then flags. glog flags such as -v and --logtostderr are accepted too.
package main

import (
	"flag"

	log "github.com/golang/glog"
	"github.com/google/differential-privacy/dpengine/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps global flags onto configuration keys. Only flags set on the
// command line override the file and the environment.
var flagKeys = map[string]string{
	"sensitivity":        "sensitivity",
	"max_budget":         "max_budget",
	"noise_distribution": "noise_distribution",
	"delta":              "delta",
	"dataset":            "dataset",
	"ledger":             "ledger.backend",
	"source":             "source.backend",
	"csv_path":           "source.csv_path",
	"redis_addr":         "redis.addr",
	"postgres_dsn":       "postgres.dsn",
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var cfgFile string
	var cfg *config.Config

	root := &cobra.Command{
		Use:   "dpengine",
		Short: "Differentially private statistics over patient records",
		Long: `dpengine computes the mean, sum or count of a dataset, adds calibrated
noise and charges the privacy loss to a per-dataset budget.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = loadConfig(v, cmd.Flags(), cfgFile)
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML configuration file")
	pf.Float64("sensitivity", 1.0, "Sensitivity used when bounds are not configured")
	pf.Float64("max_budget", 0, "Maximum cumulative epsilon per dataset; unset means unlimited")
	pf.String("noise_distribution", "laplace", "Noise distribution: laplace or gaussian")
	pf.Float64("delta", 0, "Delta for gaussian noise")
	pf.String("dataset", "patients", "Dataset to query")
	pf.String("ledger", config.BackendMemory, "Budget ledger backend: memory or redis")
	pf.String("source", config.BackendMemory, "Record source backend: memory, csv or postgres")
	pf.String("csv_path", "", "CSV file read by the csv source")
	pf.String("redis_addr", "", "Redis address used by the redis ledger")
	pf.String("postgres_dsn", "", "PostgreSQL connection string used by the postgres source")
	pf.AddGoFlagSet(flag.CommandLine)

	cfgFn := func() *config.Config { return cfg }
	root.AddCommand(newServeCmd(cfgFn))
	root.AddCommand(newQueryCmd(cfgFn))
	root.AddCommand(newBudgetCmd(cfgFn))
	return root
}

func loadConfig(v *viper.Viper, flags *pflag.FlagSet, cfgFile string) (*config.Config, error) {
	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}
	return config.Load(v, cfgFile)
}

func main() {
	// The glog flags are set through pflag; mark the Go flag set as parsed.
	_ = flag.CommandLine.Parse(nil)
	defer log.Flush()

	if err := newRootCmd().Execute(); err != nil {
		log.Exitf("dpengine: %v", err)
	}
}
