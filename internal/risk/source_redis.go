package risk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/openidx/authrisk/internal/common/errors"
)

// DefaultRedisKeyPrefix namespaces the threat intel keys
const DefaultRedisKeyPrefix = "threat_intel:"

// RedisSource reads threat intelligence shared between service instances.
// IP lists are SETs, zones are JSON arrays stored as STRINGs.
type RedisSource struct {
	client *redis.Client
	prefix string
}

// NewRedisSource creates a RedisSource. An empty prefix selects DefaultRedisKeyPrefix.
func NewRedisSource(client *redis.Client, prefix string) *RedisSource {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisSource{client: client, prefix: prefix}
}

// Name returns the source name
func (s *RedisSource) Name() string { return "redis" }

func (s *RedisSource) suspiciousKey() string { return s.prefix + "suspicious_ips" }
func (s *RedisSource) maliciousKey() string  { return s.prefix + "malicious_ips" }
func (s *RedisSource) blockedKey() string    { return s.prefix + "blocked_zones" }
func (s *RedisSource) highRiskKey() string   { return s.prefix + "high_risk_zones" }

func (s *RedisSource) keys() []string {
	return []string{s.suspiciousKey(), s.maliciousKey(), s.blockedKey(), s.highRiskKey()}
}

// Load reads every key. Missing keys are empty lists, but at least one key
// must exist so an unpopulated store is not mistaken for an empty snapshot.
func (s *RedisSource) Load(ctx context.Context) (*ThreatIntel, error) {
	n, err := s.client.Exists(ctx, s.keys()...).Result()
	if err != nil {
		return nil, apperrors.ThreatIntelUnavailable(s.Name(), err)
	}
	if n == 0 {
		return nil, apperrors.ThreatIntelUnavailable(s.Name(), nil).WithDetails("no threat intel keys found")
	}

	pipe := s.client.Pipeline()
	suspicious := pipe.SMembers(ctx, s.suspiciousKey())
	malicious := pipe.SMembers(ctx, s.maliciousKey())
	blocked := pipe.Get(ctx, s.blockedKey())
	highRisk := pipe.Get(ctx, s.highRiskKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperrors.ThreatIntelUnavailable(s.Name(), err)
	}

	cfg := ThreatIntelConfig{
		SuspiciousIPs: suspicious.Val(),
		MaliciousIPs:  malicious.Val(),
	}
	if cfg.BlockedZones, err = decodeZones(blocked); err != nil {
		return nil, apperrors.Configuration("malformed blocked zones in redis", err)
	}
	if cfg.HighRiskZones, err = decodeZones(highRisk); err != nil {
		return nil, apperrors.Configuration("malformed high-risk zones in redis", err)
	}

	return NewThreatIntel(cfg)
}

func decodeZones(cmd *redis.StringCmd) ([]ZoneConfig, error) {
	raw, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var zones []ZoneConfig
	if err := json.Unmarshal(raw, &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

// Save validates cfg and replaces the stored threat intelligence atomically
func (s *RedisSource) Save(ctx context.Context, cfg ThreatIntelConfig) error {
	intel, err := NewThreatIntel(cfg)
	if err != nil {
		return err
	}
	normalized := intel.Config()

	blocked, err := json.Marshal(normalized.BlockedZones)
	if err != nil {
		return err
	}
	highRisk, err := json.Marshal(normalized.HighRiskZones)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.keys()...)
		if len(normalized.SuspiciousIPs) > 0 {
			pipe.SAdd(ctx, s.suspiciousKey(), toAny(normalized.SuspiciousIPs)...)
		}
		if len(normalized.MaliciousIPs) > 0 {
			pipe.SAdd(ctx, s.maliciousKey(), toAny(normalized.MaliciousIPs)...)
		}
		pipe.Set(ctx, s.blockedKey(), blocked, 0)
		pipe.Set(ctx, s.highRiskKey(), highRisk, 0)
		return nil
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrRedisError, "failed to save threat intel", http.StatusInternalServerError)
	}
	return nil
}

func toAny(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
