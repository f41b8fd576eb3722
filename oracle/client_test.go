package oracle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrel-net/petrel/internal/rtest"
	"github.com/petrel-net/petrel/oracle"
	"github.com/petrel-net/petrel/oracle/oracletest"
)

func TestClientFetchPrice(t *testing.T) {
	ctx := context.Background()

	feed := oracletest.NewFeed("1.2345")
	defer feed.Close()

	c := oracle.NewClient(rtest.NewLogger(t), oracle.ClientConfig{
		BaseURL: feed.URL() + "/price",
	})

	got, err := c.FetchPrice(ctx)
	require.NoError(t, err)
	require.Equal(t, "1.2345", got)

	feed.SetPrice("2.5")
	got, err = c.FetchPrice(ctx)
	require.NoError(t, err)
	require.Equal(t, "2.5", got)
}

func TestClientPing(t *testing.T) {
	ctx := context.Background()

	feed := oracletest.NewFeed("1.0")
	defer feed.Close()

	c := oracle.NewClient(rtest.NewLogger(t), oracle.ClientConfig{
		BaseURL: feed.URL() + "/ping",
	})

	msg, err := c.Ping(ctx)
	require.NoError(t, err)
	require.Equal(t, "(V3) To the Moon!", msg)
}

func TestClientAPIKey(t *testing.T) {
	ctx := context.Background()

	feed := oracletest.NewFeed("1.0")
	defer feed.Close()
	feed.RequireAPIKey("X-API-Key", "s3cret")

	unauthed := oracle.NewClient(rtest.NewLogger(t), oracle.ClientConfig{
		BaseURL:     feed.URL() + "/price",
		MaxAttempts: 1,
	})
	_, err := unauthed.FetchPrice(ctx)
	require.ErrorIs(t, err, oracle.ErrAttemptsExhausted)

	authed := oracle.NewClient(rtest.NewLogger(t), oracle.ClientConfig{
		BaseURL:      feed.URL() + "/price",
		APIKeyHeader: "X-API-Key",
		APIKey:       "s3cret",
	})
	got, err := authed.FetchPrice(ctx)
	require.NoError(t, err)
	require.Equal(t, "1.0", got)
}

func TestClientRetriesThroughTransientFailures(t *testing.T) {
	ctx := context.Background()

	feed := oracletest.NewFeed("3.14")
	defer feed.Close()
	feed.FailNext(3)

	c := oracle.NewClient(rtest.NewLogger(t), oracle.ClientConfig{
		BaseURL:    feed.URL() + "/price",
		RetryDelay: time.Millisecond,
	})

	// Three failures, then the default five-attempt budget still covers it.
	got, err := c.FetchPrice(ctx)
	require.NoError(t, err)
	require.Equal(t, "3.14", got)
}

func TestClientAttemptsExhausted(t *testing.T) {
	ctx := context.Background()

	feed := oracletest.NewFeed("3.14")
	defer feed.Close()
	feed.FailNext(10)

	c := oracle.NewClient(rtest.NewLogger(t), oracle.ClientConfig{
		BaseURL:     feed.URL() + "/price",
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	})

	_, err := c.FetchPrice(ctx)
	require.ErrorIs(t, err, oracle.ErrAttemptsExhausted)
}
