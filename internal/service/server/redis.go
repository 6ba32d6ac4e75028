package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"e2e_trust/internal/model"
	"e2e_trust/internal/utils/log"
)

const queryCacheTTL = time.Minute

func queryCacheKey(userID string) string {
	return fmt.Sprintf("keys: %s", userID)
}

func updateQueueKey(userID, deviceID string) string {
	return fmt.Sprintf("updates: %s/%s", userID, deviceID)
}

func (s *HttpServer) cachedQueryResponse(ctx context.Context, userID string) ([]byte, bool) {
	v, err := s.redisService.Get(ctx, queryCacheKey(userID))
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Error("query cache read failed", zap.Error(err))
		return nil, false
	}
	return []byte(v), true
}

func (s *HttpServer) cacheQueryResponse(ctx context.Context, userID string, data []byte) {
	if err := s.redisService.Set(ctx, queryCacheKey(userID), data, queryCacheTTL); err != nil {
		log.Error("query cache write failed", zap.Error(err))
	}
}

func (s *HttpServer) invalidateQueryCache(ctx context.Context, userID string) {
	if err := s.redisService.Del(ctx, queryCacheKey(userID)); err != nil {
		log.Error("query cache invalidate failed", zap.Error(err))
	}
}

// queueForOfflineDevices stores the update for every device of the affected
// user that has no live update socket, to be flushed when it reconnects.
func (s *HttpServer) queueForOfflineDevices(ctx context.Context, update *model.KeyUpdate) {
	devices, err := s.deviceRepo.GetDevicesByUser(ctx, update.UserID)
	if err != nil {
		log.Error("list devices for update queue failed", zap.Error(err))
		return
	}

	data, _ := json.Marshal(update)
	for _, device := range devices {
		s.mu.Lock()
		_, online := s.mapper[connKey(device.UserID, device.DeviceID)]
		s.mu.Unlock()
		if online {
			continue
		}
		if err := s.redisService.RPush(ctx, updateQueueKey(device.UserID, device.DeviceID), data); err != nil {
			log.Error("queue update failed", zap.Error(err))
		}
	}
}

func (s *HttpServer) flushQueuedUpdates(ctx context.Context, userID, deviceID string, conn *websocket.Conn) error {
	key := updateQueueKey(userID, deviceID)
	vals, err := s.redisService.LRange(ctx, key)
	if err != nil {
		return err
	}
	if err := s.redisService.Del(ctx, key); err != nil {
		return err
	}

	for _, v := range vals {
		var update model.KeyUpdate
		if err := json.Unmarshal([]byte(v), &update); err != nil {
			return err
		}
		if err := conn.WriteJSON(&update); err != nil {
			return err
		}
	}
	return nil
}
