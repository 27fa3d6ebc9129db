package lightodm

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var objectIDPattern = regexp.MustCompile(`^[0-9a-f]{24}$`)

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestGenerateID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := GenerateID()
		require.Regexp(t, objectIDPattern, id)

		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestGenerateCompositeID(t *testing.T) {
	tests := []struct {
		name   string
		values []any
		want   string
	}{
		{name: "strings", values: []any{"tenant1", "user1"}, want: md5Hex("tenant1user1")},
		{name: "single value", values: []any{"single"}, want: md5Hex("single")},
		{name: "integers", values: []any{123, 456}, want: md5Hex("123456")},
		{name: "mixed", values: []any{"test", 123}, want: md5Hex("test123")},
		{name: "float", values: []any{1, 2.5}, want: md5Hex("12.5")},
		{name: "integral float", values: []any{1.0, "x"}, want: md5Hex("1x")},
		{name: "bool", values: []any{true, false}, want: md5Hex("truefalse")},
		{name: "special characters", values: []any{"test@email.com", "!@#$%"}, want: md5Hex("test@email.com!@#$%")},
		{name: "empty string", values: []any{"", "test"}, want: md5Hex("test")},
		{name: "string pointer", values: []any{strPtr("a"), "b"}, want: md5Hex("ab")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateCompositeID(tt.values...)
			assert.Equal(t, tt.want, got)
			assert.Len(t, got, 32)
		})
	}
}

func TestGenerateCompositeIDOrderMatters(t *testing.T) {
	assert.NotEqual(t, GenerateCompositeID("a", "b"), GenerateCompositeID("b", "a"))
	assert.Equal(t, GenerateCompositeID("a", "b"), GenerateCompositeID("a", "b"))
}

func TestGenerateCompositeIDAmbiguousBoundaries(t *testing.T) {
	// concatenation has no separator
	assert.Equal(t, GenerateCompositeID("ab", "c"), GenerateCompositeID("a", "bc"))
}
