package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"road-telemetry-hub/models"
)

const latestTTL = 5 * time.Minute

// RedisClient keeps the most recently published batch of every user.
type RedisClient struct {
	client *redis.Client
}

func NewRedisClient(addr string) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     "",
		DB:           0,
		PoolSize:     50,
		MinIdleConns: 10,
		MaxRetries:   3,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}

	return &RedisClient{client: rdb}, nil
}

func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

func latestKey(userID int) string {
	return "latest:" + strconv.Itoa(userID)
}

func (rc *RedisClient) SaveLatest(ctx context.Context, userID int, records []models.StoredRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}

	return rc.client.Set(ctx, latestKey(userID), data, latestTTL).Err()
}

// GetLatest returns nil, nil when nothing is cached for the user.
func (rc *RedisClient) GetLatest(ctx context.Context, userID int) ([]models.StoredRecord, error) {
	val, err := rc.client.Get(ctx, latestKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []models.StoredRecord
	if err := json.Unmarshal([]byte(val), &records); err != nil {
		return nil, err
	}

	return records, nil
}
