// Package redis implements the parser code store on Redis. Entries are JSON
// blobs under parser_code:{bankKey}:v{version}; versions are allocated with
// SETNX so a number is never reused, while counter updates are plain
// read-modify-write (advisory, lost updates under races are acceptable).
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/savichev/finparse/internal/parsercode"
	"github.com/savichev/finparse/pkg/logger"
)

// KeyPrefix is the prefix for parser code keys.
const KeyPrefix = "parser_code:"

// saveAttempts bounds the SETNX retry loop under concurrent savers.
const saveAttempts = 16

// CodeStore is a Redis-backed parsercode.Store.
type CodeStore struct {
	client *redis.Client
	logger *logger.Logger
}

// NewCodeStore creates a new parser code store.
func NewCodeStore(client *redis.Client, log *logger.Logger) *CodeStore {
	return &CodeStore{
		client: client,
		logger: log.WithField("component", "code_store"),
	}
}

func entryKey(bankKey string, version int) string {
	return fmt.Sprintf("%s%s:v%d", KeyPrefix, bankKey, version)
}

func bankPattern(bankKey string) string {
	return fmt.Sprintf("%s%s:v*", KeyPrefix, bankKey)
}

// ListVersions returns all entries for a bank key, newest version first.
func (s *CodeStore) ListVersions(ctx context.Context, bankKey string) ([]*parsercode.Entry, error) {
	keys, err := s.scanKeys(ctx, bankPattern(bankKey))
	if err != nil {
		return nil, fmt.Errorf("scanning parser code keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("fetching parser code entries: %w", err)
	}

	entries := make([]*parsercode.Entry, 0, len(keys))
	for i, cmd := range cmds {
		val, err := cmd.Result()
		if err == redis.Nil {
			continue // deleted between scan and fetch
		}
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", keys[i], err)
		}
		var entry parsercode.Entry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			s.logger.Warn("skipping corrupt parser code entry", "key", keys[i], "error", err)
			continue
		}
		entries = append(entries, &entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Version > entries[j].Version })
	return entries, nil
}

// LatestVersion returns the highest saved version number, 0 if none.
func (s *CodeStore) LatestVersion(ctx context.Context, bankKey string) (int, error) {
	keys, err := s.scanKeys(ctx, bankPattern(bankKey))
	if err != nil {
		return 0, fmt.Errorf("scanning parser code keys: %w", err)
	}

	max := 0
	for _, key := range keys {
		if v, ok := versionFromKey(key); ok && v > max {
			max = v
		}
	}
	return max, nil
}

// Save persists entry under the next version number. SETNX guarantees no
// version is ever overwritten even with concurrent savers; on collision the
// next number is tried.
func (s *CodeStore) Save(ctx context.Context, entry *parsercode.Entry) (int, error) {
	latest, err := s.LatestVersion(ctx, entry.BankKey)
	if err != nil {
		return 0, err
	}

	for attempt := 0; attempt < saveAttempts; attempt++ {
		version := latest + 1 + attempt

		cp := *entry
		cp.Version = version
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now().UTC()
		}

		data, err := json.Marshal(&cp)
		if err != nil {
			return 0, fmt.Errorf("marshaling parser code entry: %w", err)
		}

		ok, err := s.client.SetNX(ctx, entryKey(cp.BankKey, version), data, 0).Result()
		if err != nil {
			return 0, fmt.Errorf("saving parser code entry: %w", err)
		}
		if ok {
			s.logger.Info("saved parser code version",
				"bank_key", cp.BankKey, "version", version, "confidence", cp.Confidence)
			return version, nil
		}
		// Someone else claimed this number; try the next one.
	}

	return 0, fmt.Errorf("could not allocate a version for %s after %d attempts", entry.BankKey, saveAttempts)
}

// RecordSuccess increments the success counter of one version.
func (s *CodeStore) RecordSuccess(ctx context.Context, bankKey string, version int) error {
	return s.bumpCounter(ctx, bankKey, version, func(e *parsercode.Entry) { e.SuccessCount++ })
}

// RecordFailure increments the fail counter of one version.
func (s *CodeStore) RecordFailure(ctx context.Context, bankKey string, version int) error {
	return s.bumpCounter(ctx, bankKey, version, func(e *parsercode.Entry) { e.FailCount++ })
}

func (s *CodeStore) bumpCounter(ctx context.Context, bankKey string, version int, bump func(*parsercode.Entry)) error {
	key := entryKey(bankKey, version)

	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return fmt.Errorf("parser code %s v%d not found", bankKey, version)
	}
	if err != nil {
		return fmt.Errorf("reading parser code entry: %w", err)
	}

	var entry parsercode.Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return fmt.Errorf("unmarshaling parser code entry: %w", err)
	}

	bump(&entry)

	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("marshaling parser code entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("writing parser code entry: %w", err)
	}
	return nil
}

// Clear deletes every version for a bank key and returns the count.
func (s *CodeStore) Clear(ctx context.Context, bankKey string) (int, error) {
	keys, err := s.scanKeys(ctx, bankPattern(bankKey))
	if err != nil {
		return 0, fmt.Errorf("scanning parser code keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	pipe := s.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("clearing parser code for %s: %w", bankKey, err)
	}

	s.logger.Info("cleared parser code", "bank_key", bankKey, "versions", len(keys))
	return len(keys), nil
}

// ListBanks returns a summary for every bank key with cached code.
func (s *CodeStore) ListBanks(ctx context.Context) ([]*parsercode.BankInfo, error) {
	keys, err := s.scanKeys(ctx, KeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scanning parser code keys: %w", err)
	}
	if len(keys) == 0 {
		return []*parsercode.BankInfo{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("fetching parser code entries: %w", err)
	}

	byBank := make(map[string]*parsercode.BankInfo)
	for _, cmd := range cmds {
		val, err := cmd.Result()
		if err != nil {
			continue
		}
		var entry parsercode.Entry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			continue
		}
		info, ok := byBank[entry.BankKey]
		if !ok {
			info = &parsercode.BankInfo{BankKey: entry.BankKey}
			byBank[entry.BankKey] = info
		}
		info.VersionCount++
		info.SuccessCount += entry.SuccessCount
		info.FailCount += entry.FailCount
	}

	out := make([]*parsercode.BankInfo, 0, len(byBank))
	for _, info := range byBank {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BankKey < out[j].BankKey })
	return out, nil
}

func (s *CodeStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// versionFromKey parses the version suffix of parser_code:{bankKey}:v{n}.
func versionFromKey(key string) (int, bool) {
	idx := strings.LastIndex(key, ":v")
	if idx < 0 {
		return 0, false
	}
	v, err := strconv.Atoi(key[idx+2:])
	if err != nil {
		return 0, false
	}
	return v, true
}
