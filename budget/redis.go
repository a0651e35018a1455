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
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/golang/glog"
)

// chargeScript checks and commits a charge in one server-side step.
//
// KEYS[1] is the entry hash, KEYS[2] the set of known handles.
// ARGV: epsilon, has-max flag ("1"/"0"), max budget, tolerance, handle.
// Returns {accepted (1/0), spent, charges}. Floats are returned as strings
// since Redis truncates Lua numbers to integers.
var chargeScript = redis.NewScript(`
local spent = tonumber(redis.call('HGET', KEYS[1], 'spent') or '0')
local charges = tonumber(redis.call('HGET', KEYS[1], 'charges') or '0')
local epsilon = tonumber(ARGV[1])
local hasMax = ARGV[2] == '1'
if hasMax then
  local max = tonumber(ARGV[3])
  local tolerance = tonumber(ARGV[4])
  if spent >= max - tolerance or spent + epsilon > max + tolerance then
    return {0, string.format('%.17g', spent), charges}
  end
end
spent = spent + epsilon
charges = charges + 1
redis.call('HSET', KEYS[1], 'spent', string.format('%.17g', spent), 'charges', charges)
if hasMax then
  redis.call('HSET', KEYS[1], 'max', ARGV[3])
else
  redis.call('HDEL', KEYS[1], 'max')
end
redis.call('SADD', KEYS[2], ARGV[5])
return {1, string.format('%.17g', spent), charges}
`)

// RedisConfig holds the connection settings of a RedisLedger.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisLedger is a Ledger stored in Redis, shared by every engine process
// that points at the same server and key prefix. Check-and-commit runs as a
// Lua script, which Redis executes atomically.
type RedisLedger struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisLedger validates cfg and returns a RedisLedger. It does not dial
// the server; call Ping to verify connectivity.
func NewRedisLedger(cfg *RedisConfig) (*RedisLedger, error) {
	if cfg == nil {
		return nil, errors.New("redis config cannot be nil")
	}
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.DB < 0 {
		return nil, fmt.Errorf("redis db is %d, must be non-negative", cfg.DB)
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return NewRedisLedgerFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisLedgerFromClient wraps an existing client.
func NewRedisLedgerFromClient(client redis.UniversalClient, keyPrefix string) *RedisLedger {
	return &RedisLedger{client: client, keyPrefix: keyPrefix}
}

// Ping checks that the server is reachable.
func (l *RedisLedger) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("couldn't reach redis ledger: %w", err)
	}
	log.Infof("Connected to redis ledger, key prefix %q", l.keyPrefix)
	return nil
}

// Close releases the underlying connections.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func (l *RedisLedger) key(parts ...string) string {
	k := ""
	if l.keyPrefix != "" {
		k = l.keyPrefix + ":"
	}
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (l *RedisLedger) entryKey(h Handle) string {
	return l.key("budget", string(h))
}

func (l *RedisLedger) handlesKey() string {
	return l.key("budget-handles")
}

// Charge implements Ledger.
func (l *RedisLedger) Charge(ctx context.Context, handle Handle, epsilon float64, maxBudget *float64) (Entry, error) {
	if err := checkCharge(handle, epsilon, maxBudget); err != nil {
		return Entry{}, err
	}
	hasMax, maxArg := "0", "0"
	if maxBudget != nil {
		hasMax, maxArg = "1", strconv.FormatFloat(*maxBudget, 'g', -1, 64)
	}
	res, err := chargeScript.Run(ctx, l.client,
		[]string{l.entryKey(handle), l.handlesKey()},
		strconv.FormatFloat(epsilon, 'g', -1, 64), hasMax, maxArg,
		strconv.FormatFloat(Tolerance, 'g', -1, 64), string(handle),
	).Slice()
	if err != nil {
		return Entry{}, fmt.Errorf("couldn't charge dataset %q in redis: %w", handle, err)
	}
	accepted, spent, charges, err := parseChargeReply(res)
	if err != nil {
		return Entry{}, err
	}
	if !accepted {
		log.Warningf("Rejecting charge of ε=%g on dataset %q: spent %g of %g", epsilon, handle, spent, *maxBudget)
		cur, entryErr := l.Entry(ctx, handle)
		if entryErr != nil {
			cur = Entry{Handle: handle, Spent: spent, Charges: charges, State: stateFor(spent, charges, maxBudget)}
		}
		return cur, exceeded(handle, spent, epsilon, maxBudget)
	}
	log.V(1).Infof("Charged ε=%g on dataset %q, spent %g after %d charges", epsilon, handle, spent, charges)
	var recorded *float64
	if maxBudget != nil {
		recorded = Float64(*maxBudget)
	}
	return Entry{Handle: handle, Spent: spent, MaxBudget: recorded, Charges: charges, State: stateFor(spent, charges, recorded)}, nil
}

func parseChargeReply(res []interface{}) (accepted bool, spent float64, charges int64, err error) {
	if len(res) != 3 {
		return false, 0, 0, fmt.Errorf("unexpected redis charge reply %v", res)
	}
	flag, ok := res[0].(int64)
	if !ok {
		return false, 0, 0, fmt.Errorf("unexpected redis charge flag %v", res[0])
	}
	s, ok := res[1].(string)
	if !ok {
		return false, 0, 0, fmt.Errorf("unexpected redis spend %v", res[1])
	}
	spent, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return false, 0, 0, fmt.Errorf("couldn't parse redis spend %q: %w", s, err)
	}
	charges, ok = res[2].(int64)
	if !ok {
		return false, 0, 0, fmt.Errorf("unexpected redis charge count %v", res[2])
	}
	return flag == 1, spent, charges, nil
}

// Entry implements Ledger.
func (l *RedisLedger) Entry(ctx context.Context, handle Handle) (Entry, error) {
	fields, err := l.client.HGetAll(ctx, l.entryKey(handle)).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("couldn't read ledger entry of dataset %q: %w", handle, err)
	}
	return entryFromHash(handle, fields)
}

func entryFromHash(handle Handle, fields map[string]string) (Entry, error) {
	e := Entry{Handle: handle}
	if v, ok := fields["spent"]; ok {
		spent, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Entry{}, fmt.Errorf("corrupt spend %q for dataset %q: %w", v, handle, err)
		}
		e.Spent = spent
	}
	if v, ok := fields["charges"]; ok {
		charges, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Entry{}, fmt.Errorf("corrupt charge count %q for dataset %q: %w", v, handle, err)
		}
		e.Charges = charges
	}
	if v, ok := fields["max"]; ok {
		maxBudget, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Entry{}, fmt.Errorf("corrupt max budget %q for dataset %q: %w", v, handle, err)
		}
		e.MaxBudget = Float64(maxBudget)
	}
	e.State = stateFor(e.Spent, e.Charges, e.MaxBudget)
	return e, nil
}

// Handles implements Ledger. Handles are returned in lexical order.
func (l *RedisLedger) Handles(ctx context.Context) ([]Handle, error) {
	members, err := l.client.SMembers(ctx, l.handlesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("couldn't list ledger handles: %w", err)
	}
	sort.Strings(members)
	handles := make([]Handle, len(members))
	for i, m := range members {
		handles[i] = Handle(m)
	}
	return handles, nil
}
