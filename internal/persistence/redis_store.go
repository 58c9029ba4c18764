package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/durable/pkg/api"
)

// RedisStore implements InstanceStore and EntityStateStore on top of Redis.
// It uses a simple key structure:
//
//	<prefix>inst:<id>            => gob-encoded redisInstancePayload
//	<prefix>hist:<id>            => LIST of gob-encoded redisEventPayload
//	<prefix>entity:<id>          => gob-encoded state payload
//	<prefix>idx:all              => SET of all instance IDs
//	<prefix>idx:orch:<name>      => SET of instance IDs for an orchestrator
//	<prefix>idx:status:<status>  => SET of instance IDs for a status
//
// The indexes are best-effort; they are always updated on Create/Update, and
// ListInstances filters by payload after set lookup.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ InstanceStore = (*RedisStore)(nil)

var _ EntityStateStore = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "durable:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "durable:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

type redisInstancePayload struct {
	ID           string
	Orchestrator string
	Status       string
	Input        []byte
	Output       []byte
	Fault        string
	CreatedAt    int64
	UpdatedAt    int64
}

type redisEventPayload struct {
	Sequence int64
	TaskID   int
	Type     string
	At       int64
	Name     string
	Entity   string
	FireAt   int64
	Payload  []byte
	Fault    string
}

func (s *RedisStore) keyInstance(id string) string { return s.prefix + "inst:" + id }
func (s *RedisStore) keyHistory(id string) string  { return s.prefix + "hist:" + id }
func (s *RedisStore) keyEntity(id string) string   { return s.prefix + "entity:" + id }
func (s *RedisStore) keyAll() string               { return s.prefix + "idx:all" }
func (s *RedisStore) keyOrchestrator(name string) string {
	return s.prefix + "idx:orch:" + name
}
func (s *RedisStore) keyStatus(status api.Status) string {
	return s.prefix + "idx:status:" + string(status)
}

func encodeRedisInstance(inst *api.Instance) ([]byte, error) {
	input, err := EncodeValue(inst.Input)
	if err != nil {
		return nil, err
	}
	output, err := EncodeValue(inst.Output)
	if err != nil {
		return nil, err
	}

	payload := redisInstancePayload{
		ID:           inst.ID,
		Orchestrator: inst.Orchestrator,
		Status:       string(inst.Status),
		Input:        input,
		Output:       output,
		Fault:        inst.Fault,
		CreatedAt:    inst.CreatedAt.UnixNano(),
		UpdatedAt:    inst.UpdatedAt.UnixNano(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRedisInstance(data []byte) (*api.Instance, error) {
	if len(data) == 0 {
		return nil, ErrInstanceNotFound
	}
	var payload redisInstancePayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return nil, err
	}

	input, err := DecodeValue[any](payload.Input)
	if err != nil {
		return nil, err
	}
	output, err := DecodeValue[any](payload.Output)
	if err != nil {
		return nil, err
	}

	return &api.Instance{
		ID:           payload.ID,
		Orchestrator: payload.Orchestrator,
		Status:       api.Status(payload.Status),
		Input:        input,
		Output:       output,
		Fault:        payload.Fault,
		CreatedAt:    time.Unix(0, payload.CreatedAt),
		UpdatedAt:    time.Unix(0, payload.UpdatedAt),
	}, nil
}

func (s *RedisStore) CreateInstance(inst *api.Instance) error {
	ctx := context.Background()

	data, err := encodeRedisInstance(inst)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.keyInstance(inst.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrInstanceExists
	}

	s.updateIndexes(ctx, inst)
	return nil
}

func (s *RedisStore) UpdateInstance(inst *api.Instance) error {
	ctx := context.Background()

	exists, err := s.client.Exists(ctx, s.keyInstance(inst.ID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrInstanceNotFound
	}

	data, err := encodeRedisInstance(inst)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.keyInstance(inst.ID), data, 0).Err(); err != nil {
		return err
	}

	s.updateIndexes(ctx, inst)
	return nil
}

// updateIndexes re-adds index entries; stale entries may remain when the
// status changes, ListInstances filters by payload.
func (s *RedisStore) updateIndexes(ctx context.Context, inst *api.Instance) {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyAll(), inst.ID)
	pipe.SAdd(ctx, s.keyOrchestrator(inst.Orchestrator), inst.ID)
	pipe.SAdd(ctx, s.keyStatus(inst.Status), inst.ID)
	_, _ = pipe.Exec(ctx)
}

func (s *RedisStore) GetInstance(id string) (*api.Instance, error) {
	ctx := context.Background()

	data, err := s.client.Get(ctx, s.keyInstance(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return decodeRedisInstance(data)
}

func (s *RedisStore) ListInstances(filter api.InstanceFilter) ([]*api.Instance, error) {
	ctx := context.Background()

	var ids []string
	var err error

	switch {
	case filter.Orchestrator != "":
		ids, err = s.client.SMembers(ctx, s.keyOrchestrator(filter.Orchestrator)).Result()
	case filter.Status != "":
		ids, err = s.client.SMembers(ctx, s.keyStatus(filter.Status)).Result()
	default:
		ids, err = s.client.SMembers(ctx, s.keyAll()).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var instances []*api.Instance
	for _, id := range ids {
		inst, err := s.GetInstance(id)
		if err != nil {
			if errors.Is(err, ErrInstanceNotFound) {
				continue
			}
			return nil, err
		}
		if filter.Orchestrator != "" && inst.Orchestrator != filter.Orchestrator {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

func (s *RedisStore) AppendEvent(instanceID string, ev *api.HistoryEvent) error {
	ctx := context.Background()

	exists, err := s.client.Exists(ctx, s.keyInstance(instanceID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrInstanceNotFound
	}

	payload, err := EncodeValue(ev.Payload)
	if err != nil {
		return err
	}

	var fireAt int64
	if !ev.FireAt.IsZero() {
		fireAt = ev.FireAt.UnixNano()
	}

	rec := redisEventPayload{
		TaskID:  ev.TaskID,
		Type:    string(ev.Type),
		At:      ev.At.UnixNano(),
		Name:    ev.Name,
		Entity:  ev.Entity,
		FireAt:  fireAt,
		Payload: payload,
		Fault:   ev.Fault,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return err
	}

	length, err := s.client.RPush(ctx, s.keyHistory(instanceID), buf.Bytes()).Result()
	if err != nil {
		return err
	}
	ev.Sequence = length
	return nil
}

func (s *RedisStore) GetHistory(instanceID string) ([]api.HistoryEvent, error) {
	ctx := context.Background()

	exists, err := s.client.Exists(ctx, s.keyInstance(instanceID)).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrInstanceNotFound
	}

	items, err := s.client.LRange(ctx, s.keyHistory(instanceID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]api.HistoryEvent, 0, len(items))
	for i, item := range items {
		var rec redisEventPayload
		if err := gob.NewDecoder(bytes.NewReader([]byte(item))).Decode(&rec); err != nil {
			return nil, err
		}
		val, err := DecodeValue[any](rec.Payload)
		if err != nil {
			return nil, err
		}
		ev := api.HistoryEvent{
			Sequence: int64(i + 1),
			TaskID:   rec.TaskID,
			Type:     api.EventType(rec.Type),
			At:       time.Unix(0, rec.At),
			Name:     rec.Name,
			Entity:   rec.Entity,
			Payload:  val,
			Fault:    rec.Fault,
		}
		if rec.FireAt != 0 {
			ev.FireAt = time.Unix(0, rec.FireAt)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *RedisStore) SaveEntityState(id string, state any) error {
	data, err := EncodeValue(state)
	if err != nil {
		return err
	}
	return s.client.Set(context.Background(), s.keyEntity(id), data, 0).Err()
}

func (s *RedisStore) GetEntityState(id string) (any, error) {
	data, err := s.client.Get(context.Background(), s.keyEntity(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEntityNotFound
		}
		return nil, err
	}
	return DecodeValue[any](data)
}

func (s *RedisStore) DeleteEntityState(id string) error {
	return s.client.Del(context.Background(), s.keyEntity(id)).Err()
}
