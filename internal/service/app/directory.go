package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"e2e_trust/internal/model"
	"e2e_trust/internal/service/redis"
	"e2e_trust/internal/service/trust"
)

const directoryCacheTTL = 30 * time.Second

type (
	// Directory is the client's view of published keys: the homeserver's
	// query endpoint fronted by a short-lived redis cache that update
	// notifications invalidate.
	Directory struct {
		client       *Client
		redisService *redis.RedisService
		requester    string
	}
)

var _ trust.Directory = (*Directory)(nil)

func NewDirectory(client *Client, redisSvc *redis.RedisService, requester string) *Directory {
	return &Directory{
		client:       client,
		redisService: redisSvc,
		requester:    requester,
	}
}

func (d *Directory) CrossSigningInfo(ctx context.Context, userID string) (*model.CrossSigningInfo, error) {
	result, err := d.query(ctx, userID)
	if err != nil {
		return nil, err
	}
	return result.CrossSigning, nil
}

func (d *Directory) Device(ctx context.Context, userID, deviceID string) (*model.DeviceKeys, error) {
	result, err := d.query(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, device := range result.Devices {
		if device.DeviceID == deviceID {
			return device, nil
		}
	}
	return nil, nil
}

// Invalidate drops the cached view of a user, typically on a KeyUpdate.
func (d *Directory) Invalidate(ctx context.Context, userID string) error {
	return d.redisService.Del(ctx, d.cacheKey(userID))
}

func (d *Directory) cacheKey(userID string) string {
	return fmt.Sprintf("directory: %s: %s", d.requester, userID)
}

func (d *Directory) query(ctx context.Context, userID string) (*queryResult, error) {
	v, err := d.redisService.Get(ctx, d.cacheKey(userID))
	if err == nil {
		var cached queryResult
		if err := json.Unmarshal([]byte(v), &cached); err == nil {
			return &cached, nil
		}
	} else if err != goredis.Nil {
		return nil, err
	}

	result, err := d.client.QueryKeys(ctx, userID, d.requester)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(result); err == nil {
		if err := d.redisService.Set(ctx, d.cacheKey(userID), data, directoryCacheTTL); err != nil {
			return nil, err
		}
	}
	return result, nil
}
