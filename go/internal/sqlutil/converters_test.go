package sqlutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestToNullUUID(t *testing.T) {
	check.False(t, ToNullUUID(nil).Valid)

	id := uuid.New()
	got := ToNullUUID(&id)
	check.True(t, got.Valid)
	check.Equal(t, id, got.UUID)
}

func TestToNullRawMessage(t *testing.T) {
	got, err := ToNullRawMessage(nil)
	assert.NoError(t, err)
	check.False(t, got.Valid)

	var empty map[string]any
	got, err = ToNullRawMessage(empty)
	assert.NoError(t, err)
	check.False(t, got.Valid)

	got, err = ToNullRawMessage(map[string]any{"source": "seed"})
	assert.NoError(t, err)
	check.True(t, got.Valid)
	check.Equal(t, `{"source":"seed"}`, string(got.RawMessage))

	_, err = ToNullRawMessage(func() {})
	check.Error(t, err)
}
