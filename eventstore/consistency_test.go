package eventstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
)

func Test_GetConsistencyLevel(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected ConsistencyLevel
	}{
		{name: "defaults to strong", ctx: context.Background(), expected: StrongConsistency},
		{name: "strong", ctx: WithStrongConsistency(context.Background()), expected: StrongConsistency},
		{name: "eventual", ctx: WithEventualConsistency(context.Background()), expected: EventualConsistency},
		{
			name:     "innermost wins",
			ctx:      WithStrongConsistency(WithEventualConsistency(context.Background())),
			expected: StrongConsistency,
		},
		{
			name:     "ignores a foreign value under the key",
			ctx:      context.WithValue(context.Background(), ConsistencyLevelKey, "eventual"),
			expected: StrongConsistency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetConsistencyLevel(tt.ctx))
		})
	}
}

func Test_ConsistencyLevel_String(t *testing.T) {
	assert.Equal(t, "strong", StrongConsistency.String())
	assert.Equal(t, "eventual", EventualConsistency.String())
	assert.Equal(t, "unknown", ConsistencyLevel(42).String())
}
