package redis

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishJSONToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	_, err := PublishJSONToStream(ctx, rdb, "s", 0, map[string]any{"asset_id": "pump-1"})
	require.NoError(t, err)
	_, err = PublishToStream(ctx, rdb, "s", 0, map[string]interface{}{"n": 3, "ok": true, "v": 1.5})
	require.NoError(t, err)

	msgs, err := ReadLatest(ctx, rdb, "s", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "3", msgs[0].Values["n"])
	assert.Equal(t, "true", msgs[0].Values["ok"])
	assert.Equal(t, "1.5", msgs[0].Values["v"])
	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(msgs[1].Values["data"].(string)), &got))
	assert.Equal(t, "pump-1", got["asset_id"])
}
