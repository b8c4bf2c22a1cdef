package types_test

import (
	"testing"
	"time"

	"github.com/illmade-knight/go-presence/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestRecord_Clone(t *testing.T) {
	original := types.Record{Fields: map[string]interface{}{"name": "x"}}

	clone := original.Clone()
	clone.Fields["name"] = "y"

	assert.Equal(t, "x", original.Fields["name"], "mutating a clone must not leak into the original")
}

func TestUpsert(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	t.Run("Insert applies both groups", func(t *testing.T) {
		// Act
		rec := types.Upsert(types.Record{}, false,
			types.Record{InitTime: t1},
			types.Record{Fields: map[string]interface{}{"name": "x"}, LastTime: t1})

		// Assert
		assert.Equal(t, t1, rec.InitTime)
		assert.Equal(t, t1, rec.LastTime)
		assert.Equal(t, "x", rec.Fields["name"])
	})

	t.Run("Update keeps insert-only fields", func(t *testing.T) {
		// Arrange
		current := types.Record{Fields: map[string]interface{}{"name": "x", "age": 3}, InitTime: t1, LastTime: t1}

		// Act
		rec := types.Upsert(current, true,
			types.Record{InitTime: t2},
			types.Record{Fields: map[string]interface{}{"name": "z"}, LastTime: t2})

		// Assert
		assert.Equal(t, t1, rec.InitTime, "initTime is set on insert only")
		assert.Equal(t, t2, rec.LastTime)
		assert.Equal(t, "z", rec.Fields["name"])
		assert.Equal(t, 3, rec.Fields["age"], "unrelated fields survive a merge")
		assert.Equal(t, "x", current.Fields["name"], "the input record is not mutated")
	})
}
