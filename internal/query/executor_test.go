package query

import (
	"errors"
	"math/big"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertValue(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, convertValue(nil))
	})

	t.Run("timestamps become RFC 3339 strings", func(t *testing.T) {
		ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
		assert.Equal(t, "2024-03-01T10:30:00Z", convertValue(ts))
	})

	t.Run("timestamps are normalized to UTC", func(t *testing.T) {
		loc := time.FixedZone("CET", 3600)
		ts := time.Date(2024, 3, 1, 11, 30, 0, 0, loc)
		assert.Equal(t, "2024-03-01T10:30:00Z", convertValue(ts))
	})

	t.Run("numerics become float64", func(t *testing.T) {
		n := pgtype.Numeric{Int: big.NewInt(1542050), Exp: -2, Valid: true}
		got := convertValue(n)
		f, ok := got.(float64)
		require.True(t, ok)
		assert.InDelta(t, 15420.50, f, 0.001)
	})

	t.Run("invalid numeric becomes nil", func(t *testing.T) {
		assert.Nil(t, convertValue(pgtype.Numeric{}))
	})

	t.Run("bytes become valid utf-8 strings", func(t *testing.T) {
		assert.Equal(t, "hello", convertValue([]byte("hello")))

		got := convertValue([]byte{0xff, 0xfe, 'h', 'i'})
		s, ok := got.(string)
		require.True(t, ok)
		assert.Contains(t, s, "hi")
		assert.True(t, utf8.ValidString(s))
	})

	t.Run("integers and strings pass through", func(t *testing.T) {
		assert.Equal(t, int64(42), convertValue(int64(42)))
		assert.Equal(t, "plain", convertValue("plain"))
		assert.Equal(t, true, convertValue(true))
	})
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "connection string password",
			in:   `failed to connect to postgres://app:s3cr3t@db:5432/bank`,
			want: `failed to connect to postgres://app:[REDACTED]@db:5432/bank`,
		},
		{
			name: "conninfo password keyword",
			in:   `dial error: host=db password=hunter2 dbname=bank`,
			want: `dial error: host=db password=[REDACTED] dbname=bank`,
		},
		{
			name: "api key mention",
			in:   `request failed: api_key=sk-abc123`,
			want: `request failed: api_key=[REDACTED]`,
		},
		{
			name: "plain message untouched",
			in:   `relation "users" does not exist`,
			want: `relation "users" does not exist`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Redact(tt.in))
		})
	}
}

func TestDatabaseErrorRedactsMessage(t *testing.T) {
	err := newDatabaseError(assert.AnError)
	assert.Equal(t, assert.AnError.Error(), err.Message)

	redacted := newDatabaseError(errors.New("auth failed for postgres://u:pw@host/db"))
	assert.NotContains(t, redacted.Message, ":pw@")
	assert.Contains(t, redacted.Message, "[REDACTED]")
}
