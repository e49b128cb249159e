package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashData_Deterministic(t *testing.T) {
	a := HashData(map[string]any{"query": "show revenue", "user_id": "u1"})
	b := HashData(map[string]any{"user_id": "u1", "query": "show revenue"})
	assert.Equal(t, a, b, "key order must not affect the hash")
}

func TestHashData_DiffersOnContent(t *testing.T) {
	a := HashData(map[string]any{"query": "show revenue"})
	b := HashData(map[string]any{"query": "show costs"})
	assert.NotEqual(t, a, b)
}

func TestHashData_HandlesNil(t *testing.T) {
	assert.NotEmpty(t, HashData(nil))
}
