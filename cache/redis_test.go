package cache

import (
	"bufio"
	"context"
	"net"
	"strings"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"road-telemetry-hub/models"
)

func TestLatestRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rc, err := NewRedisClient(addr)
	require.NoError(t, err)
	defer rc.Close()

	ctx := context.Background()
	userID := int(time.Now().UnixNano() % 1_000_000)
	got, err := rc.GetLatest(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, got)

	records := []models.StoredRecord{{ID: 1, RoadState: models.RoadBump, UserID: userID, Timestamp: time.Now().UTC()}}
	require.NoError(t, rc.SaveLatest(ctx, userID, records))

	got, err = rc.GetLatest(ctx, userID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.RoadBump, got[0].RoadState)
}

func TestLatestKey(t *testing.T) {
	assert.Equal(t, "latest:42", latestKey(42))
}

// silentRedis answers PING and never replies to anything else.
func silentRedis(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if strings.EqualFold(strings.TrimSpace(line), "ping") {
						c.Write([]byte("+PONG\r\n"))
					}
				}
			}(conn)
		}
	}()
	return l.Addr().String()
}

func TestSaveLatestHonorsContext(t *testing.T) {
	rc, err := NewRedisClient(silentRedis(t))
	require.NoError(t, err)
	defer rc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	begin := time.Now()
	err = rc.SaveLatest(ctx, 1, []models.StoredRecord{{ID: 1}})
	assert.Error(t, err)
	assert.Less(t, time.Since(begin), time.Second)
}
