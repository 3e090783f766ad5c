package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/geochirp/globe-engine/internal/config"
	"github.com/geochirp/globe-engine/internal/database"
	"github.com/geochirp/globe-engine/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachable() config.DBConfig {
	return config.DBConfig{Host: "127.0.0.1", Port: "1", Username: "x", Password: "x", Database: "x"}
}

func TestCloseBeforeInit(t *testing.T) {
	b := New(Config{DB: unreachable()}, database.NewManager(zerolog.Nop(), ""), nil)
	assert.NoError(t, b.Close())
}

func TestInit_FallsBackToSqlite(t *testing.T) {
	b := New(Config{DB: unreachable(), PollInterval: 20 * time.Millisecond},
		database.NewManager(zerolog.Nop(), ""), nil)

	require.NoError(t, b.Init())
	defer b.Close()
	assert.True(t, b.Local())

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, core.RawRecord{
		ID:       "m1",
		Text:     core.StringPtr("hola"),
		Author:   &core.AuthorRef{UID: "u1"},
		Location: &core.Coordinate{Lat: 10, Lon: 20},
	}))
	require.NoError(t, b.Flush())

	got, err := b.RecentByAuthor(ctx, "u1", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)
}
