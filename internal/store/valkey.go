package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/config"
	"github.com/asd-engineering/asd-caddy-api-client-sub002/internal/domain"
	"github.com/valkey-io/valkey-go"
)

// ErrStatusNotFound is returned when no snapshot exists for a service id.
var ErrStatusNotFound = errors.New("status not found")

// appendToggleScript atomically pushes a history record and trims the list
// to its maximum length, so the trail stays bounded under concurrent writers.
// KEYS[1] = history list key
// ARGV[1] = record JSON
// ARGV[2] = max length
var appendToggleScript = valkey.NewLuaScript(`
local historyKey = KEYS[1]
local record = ARGV[1]
local maxLen = tonumber(ARGV[2])

redis.call('LPUSH', historyKey, record)
redis.call('LTRIM', historyKey, 0, maxLen - 1)
return redis.call('LLEN', historyKey)
`)

// Valkey key layout
const (
	keyStatus    = "mitm:status:" // mitm:status:{id} -> ServiceStatus JSON
	keyStatusIDs = "mitm:ids"     // set of service ids with a snapshot
	keyHistory   = "mitm:history" // list of ToggleRecord JSON, newest first
)

// ValkeyRepository implements Repository using Valkey.
type ValkeyRepository struct {
	client     valkey.Client
	historyMax int
}

// NewValkeyRepository creates a new Valkey-backed repository.
func NewValkeyRepository(cfg *config.StoreConfig) (*ValkeyRepository, error) {
	opts := valkey.ClientOption{
		InitAddress: []string{cfg.ValkeyAddr},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	historyMax := cfg.HistoryMax
	if historyMax <= 0 {
		historyMax = 1000
	}

	return &ValkeyRepository{
		client:     client,
		historyMax: historyMax,
	}, nil
}

// Close closes the Valkey connection.
func (r *ValkeyRepository) Close() {
	r.client.Close()
}

// SaveStatus stores the last known status snapshot for a service.
func (r *ValkeyRepository) SaveStatus(ctx context.Context, status domain.ServiceStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	key := keyStatus + status.Registration.ID
	if err := r.client.Do(ctx, r.client.B().Set().Key(key).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	if err := r.client.Do(ctx, r.client.B().Sadd().Key(keyStatusIDs).Member(status.Registration.ID).Build()).Error(); err != nil {
		return fmt.Errorf("failed to index status: %w", err)
	}
	return nil
}

// GetStatus retrieves the snapshot for a service id.
func (r *ValkeyRepository) GetStatus(ctx context.Context, id string) (*domain.ServiceStatus, error) {
	data, err := r.client.Do(ctx, r.client.B().Get().Key(keyStatus+id).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, fmt.Errorf("%w: %s", ErrStatusNotFound, id)
		}
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	var status domain.ServiceStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &status, nil
}

// DeleteStatus removes a service's snapshot.
func (r *ValkeyRepository) DeleteStatus(ctx context.Context, id string) error {
	if err := r.client.Do(ctx, r.client.B().Del().Key(keyStatus+id).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete status: %w", err)
	}
	if err := r.client.Do(ctx, r.client.B().Srem().Key(keyStatusIDs).Member(id).Build()).Error(); err != nil {
		return fmt.Errorf("failed to deindex status: %w", err)
	}
	return nil
}

// ListStatuses returns all stored snapshots.
func (r *ValkeyRepository) ListStatuses(ctx context.Context) ([]domain.ServiceStatus, error) {
	ids, err := r.client.Do(ctx, r.client.B().Smembers().Key(keyStatusIDs).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to list status ids: %w", err)
	}

	out := make([]domain.ServiceStatus, 0, len(ids))
	for _, id := range ids {
		status, err := r.GetStatus(ctx, id)
		if err != nil {
			if errors.Is(err, ErrStatusNotFound) {
				continue // deleted between SMEMBERS and GET
			}
			return nil, err
		}
		out = append(out, *status)
	}
	return out, nil
}

// AppendToggle records one toggle in the bounded history list.
func (r *ValkeyRepository) AppendToggle(ctx context.Context, rec ToggleRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal toggle record: %w", err)
	}

	result := appendToggleScript.Exec(ctx, r.client,
		[]string{keyHistory},
		[]string{string(data), strconv.Itoa(r.historyMax)},
	)
	if err := result.Error(); err != nil {
		return fmt.Errorf("failed to append toggle record: %w", err)
	}
	return nil
}

// RecentToggles returns up to n history records, newest first.
func (r *ValkeyRepository) RecentToggles(ctx context.Context, n int) ([]ToggleRecord, error) {
	if n <= 0 {
		n = 50
	}

	raw, err := r.client.Do(ctx, r.client.B().Lrange().Key(keyHistory).Start(0).Stop(int64(n-1)).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to read toggle history: %w", err)
	}

	out := make([]ToggleRecord, 0, len(raw))
	for _, item := range raw {
		var rec ToggleRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal toggle record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Ping checks connectivity.
func (r *ValkeyRepository) Ping(ctx context.Context) error {
	return r.client.Do(ctx, r.client.B().Ping().Build()).Error()
}

// Compile-time check that ValkeyRepository implements Repository.
var _ Repository = (*ValkeyRepository)(nil)
