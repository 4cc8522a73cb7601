package query

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestOrderDirection(t *testing.T) {
	tests := []struct {
		order    string
		expected int
		warns    bool
	}{
		{"asc", Ascending, false},
		{" asc ", Ascending, false},
		{"desc", Descending, false},
		{"desc\n", Descending, false},
		{"", Descending, true},
		{"ASC", Descending, true},
		{"ascending", Descending, true},
		{"sideways", Descending, true},
	}

	for _, tt := range tests {
		t.Run(tt.order, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			require.Equal(t, tt.expected, OrderDirection(tt.order, zap.New(core)))
			if tt.warns {
				require.Equal(t, 1, logs.Len())
				require.Equal(t, tt.order, logs.All()[0].ContextMap()["order"])
			} else {
				require.Zero(t, logs.Len())
			}
		})
	}
}

func TestOrderDirection_NilLogger(t *testing.T) {
	require.Equal(t, Descending, OrderDirection("bogus", nil))
}

func TestBuildSort(t *testing.T) {
	require.Equal(t, bson.D{{Key: "name", Value: Ascending}}, BuildSort("name", "asc", nil))
	require.Equal(t, bson.D{{Key: "createdAt", Value: Descending}}, BuildSort("createdAt", "newest", zap.NewNop()))
}
