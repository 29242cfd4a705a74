package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/geo-attendance-api/internal/models"
)

// appendScript writes a record and publishes it in one step. The registration
// number index is claimed with HSETNX so concurrent duplicates lose atomically.
var appendScript = redis.NewScript(`
if ARGV[3] ~= '' then
  if redis.call('HSETNX', KEYS[2], ARGV[3], ARGV[1]) == 0 then
    return 0
  end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('PUBLISH', ARGV[4], ARGV[5])
return 1
`)

// setActiveScript patches the active flag only when the session hash exists.
var setActiveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'active', ARGV[1])
return 1
`)

// RedisStore keeps the session in a hash and records as JSON values keyed by
// id, with pub/sub channels carrying changes.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger

	sessionKey     string
	recordsKey     string
	regnosKey      string
	sessionChannel string
	recordsChannel string
}

type redisRecord struct {
	ID                 string    `json:"id"`
	SessionID          string    `json:"session_id"`
	Name               string    `json:"name"`
	RegistrationNumber string    `json:"registration_number,omitempty"`
	SubmittedLatitude  float64   `json:"submitted_latitude"`
	SubmittedLongitude float64   `json:"submitted_longitude"`
	DistanceMeters     int       `json:"distance_meters"`
	PhotoURL           string    `json:"photo_url,omitempty"`
	PhotoKey           string    `json:"photo_key,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

type redisRecordChange struct {
	Kind   models.RecordChangeKind `json:"kind"`
	Record *redisRecord            `json:"record,omitempty"`
}

// NewRedisStore constructs a store using prefix for every key and channel.
func NewRedisStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "attendance"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client:         client,
		logger:         logger,
		sessionKey:     prefix + ":session",
		recordsKey:     prefix + ":records",
		regnosKey:      prefix + ":regnos",
		sessionChannel: prefix + ":events:session",
		recordsChannel: prefix + ":events:records",
	}
}

// GetSession reads the session hash.
func (s *RedisStore) GetSession(ctx context.Context) (*models.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return sessionFromHash(fields)
}

// PutSession overwrites the session hash and publishes the new value.
func (s *RedisStore) PutSession(ctx context.Context, session *models.Session) error {
	payload, err := json.Marshal(models.SessionChange{Session: session})
	if err != nil {
		return fmt.Errorf("marshal session change: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey)
		pipe.HSet(ctx, s.sessionKey, sessionToHash(session))
		pipe.Publish(ctx, s.sessionChannel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put session: %w", err)
	}
	return nil
}

// SetSessionActive patches the active flag of an existing session.
func (s *RedisStore) SetSessionActive(ctx context.Context, active bool) (*models.Session, error) {
	updated, err := setActiveScript.Run(ctx, s.client, []string{s.sessionKey}, boolField(active)).Int()
	if err != nil {
		return nil, fmt.Errorf("redis set session active: %w", err)
	}
	if updated == 0 {
		return nil, ErrNotFound
	}
	session, err := s.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(models.SessionChange{Session: session})
	if err != nil {
		return nil, fmt.Errorf("marshal session change: %w", err)
	}
	if err := s.client.Publish(ctx, s.sessionChannel, payload).Err(); err != nil {
		s.logger.Warn("publish session change failed", zap.Error(err))
	}
	return session, nil
}

// WatchSession subscribes to session changes. The subscription is confirmed
// before returning.
func (s *RedisStore) WatchSession(ctx context.Context) (<-chan models.SessionChange, error) {
	return watchChannel(ctx, s.client, s.sessionChannel, s.logger, func(raw string) (models.SessionChange, bool) {
		var change models.SessionChange
		if err := json.Unmarshal([]byte(raw), &change); err != nil {
			return change, false
		}
		return change, true
	})
}

// AppendRecord writes the record, rejecting a taken registration number.
func (s *RedisStore) AppendRecord(ctx context.Context, record *models.AttendanceRecord) (string, error) {
	rec := toRedisRecord(record)
	rec.ID = uuid.NewString()
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	event, err := json.Marshal(redisRecordChange{Kind: models.RecordAdded, Record: &rec})
	if err != nil {
		return "", fmt.Errorf("marshal record change: %w", err)
	}
	ok, err := appendScript.Run(ctx, s.client,
		[]string{s.recordsKey, s.regnosKey},
		rec.ID, payload, rec.RegistrationNumber, s.recordsChannel, event,
	).Int()
	if err != nil {
		return "", fmt.Errorf("redis append record: %w", err)
	}
	if ok == 0 {
		return "", ErrDuplicateRegistration
	}
	return rec.ID, nil
}

// FindByRegistrationNumber resolves the registration index.
func (s *RedisStore) FindByRegistrationNumber(ctx context.Context, registrationNumber string) (*models.AttendanceRecord, error) {
	id, err := s.client.HGet(ctx, s.regnosKey, registrationNumber).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis find registration: %w", err)
	}
	raw, err := s.client.HGet(ctx, s.recordsKey, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get record %s: %w", id, err)
	}
	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record %s: %w", id, err)
	}
	out := rec.model()
	return &out, nil
}

// ListRecords returns all records, oldest first.
func (s *RedisStore) ListRecords(ctx context.Context) ([]models.AttendanceRecord, error) {
	values, err := s.client.HVals(ctx, s.recordsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list records: %w", err)
	}
	return s.decodeRecords(values), nil
}

func (s *RedisStore) decodeRecords(values []string) []models.AttendanceRecord {
	out := make([]models.AttendanceRecord, 0, len(values))
	for _, raw := range values {
		var rec redisRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("skipping unreadable record", zap.Error(err))
			continue
		}
		out = append(out, rec.model())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// RemoveRecords reads and deletes the records and the registration index in
// one MULTI block and returns what was removed.
func (s *RedisStore) RemoveRecords(ctx context.Context) ([]models.AttendanceRecord, error) {
	event, err := json.Marshal(redisRecordChange{Kind: models.RecordsCleared})
	if err != nil {
		return nil, fmt.Errorf("marshal record change: %w", err)
	}
	var values *redis.StringSliceCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		values = pipe.HVals(ctx, s.recordsKey)
		pipe.Del(ctx, s.recordsKey, s.regnosKey)
		pipe.Publish(ctx, s.recordsChannel, event)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis remove records: %w", err)
	}
	return s.decodeRecords(values.Val()), nil
}

// WatchRecords subscribes to record changes.
func (s *RedisStore) WatchRecords(ctx context.Context) (<-chan models.RecordChange, error) {
	return watchChannel(ctx, s.client, s.recordsChannel, s.logger, func(raw string) (models.RecordChange, bool) {
		var change redisRecordChange
		if err := json.Unmarshal([]byte(raw), &change); err != nil {
			return models.RecordChange{}, false
		}
		out := models.RecordChange{Kind: change.Kind}
		if change.Record != nil {
			rec := change.Record.model()
			out.Record = &rec
		}
		return out, true
	})
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func watchChannel[T any](ctx context.Context, client *redis.Client, channel string, logger *zap.Logger, decode func(string) (T, bool)) (<-chan T, error) {
	ps := client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	out := make(chan T)
	go func() {
		defer close(out)
		defer ps.Close() //nolint:errcheck
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				v, ok := decode(msg.Payload)
				if !ok {
					logger.Warn("dropping undecodable event", zap.String("channel", channel))
					continue
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func sessionToHash(session *models.Session) map[string]interface{} {
	return map[string]interface{}{
		"id":               session.ID,
		"anchor_latitude":  strconv.FormatFloat(session.AnchorLatitude, 'f', -1, 64),
		"anchor_longitude": strconv.FormatFloat(session.AnchorLongitude, 'f', -1, 64),
		"active":           boolField(session.Active),
		"created_at":       session.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func sessionFromHash(fields map[string]string) (*models.Session, error) {
	lat, err := strconv.ParseFloat(fields["anchor_latitude"], 64)
	if err != nil {
		return nil, fmt.Errorf("parse anchor latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(fields["anchor_longitude"], 64)
	if err != nil {
		return nil, fmt.Errorf("parse anchor longitude: %w", err)
	}
	session := &models.Session{
		ID:              fields["id"],
		AnchorLatitude:  lat,
		AnchorLongitude: lng,
		Active:          fields["active"] == "1",
	}
	if raw := fields["created_at"]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			session.CreatedAt = ts
		}
	}
	return session, nil
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func toRedisRecord(r *models.AttendanceRecord) redisRecord {
	return redisRecord{
		ID:                 r.ID,
		SessionID:          r.SessionID,
		Name:               r.Name,
		RegistrationNumber: r.RegistrationNumber,
		SubmittedLatitude:  r.SubmittedLatitude,
		SubmittedLongitude: r.SubmittedLongitude,
		DistanceMeters:     r.DistanceMeters,
		PhotoURL:           r.PhotoURL,
		PhotoKey:           r.PhotoKey,
		Timestamp:          r.Timestamp,
	}
}

func (r redisRecord) model() models.AttendanceRecord {
	return models.AttendanceRecord{
		ID:                 r.ID,
		SessionID:          r.SessionID,
		Name:               r.Name,
		RegistrationNumber: r.RegistrationNumber,
		SubmittedLatitude:  r.SubmittedLatitude,
		SubmittedLongitude: r.SubmittedLongitude,
		DistanceMeters:     r.DistanceMeters,
		PhotoURL:           r.PhotoURL,
		PhotoKey:           r.PhotoKey,
		Timestamp:          r.Timestamp,
	}
}
