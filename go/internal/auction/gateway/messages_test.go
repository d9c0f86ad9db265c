package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestParseClientMessage(t *testing.T) {
	cmd, err := ParseClientMessage([]byte(`{"type":"place_bid","amount":"132000"}`))
	assert.NoError(t, err)
	check.Equal(t, MessageTypePlaceBid, cmd.Type)
	check.Equal(t, "132000", cmd.Amount.String())

	cmd, err = ParseClientMessage([]byte(`{"type":"buy_now"}`))
	assert.NoError(t, err)
	check.Equal(t, MessageTypeBuyNow, cmd.Type)

	for _, bad := range []string{
		`not json`,
		`{"type":"place_bid"}`,
		`{"type":"place_bid","amount":"lots"}`,
		`{"type":"cancel"}`,
	} {
		_, err := ParseClientMessage([]byte(bad))
		check.Error(t, err)
	}
}

func TestIdentityFromRequest(t *testing.T) {
	id := uuid.New()

	r := httptest.NewRequest(http.MethodGet, "/ws/auction", nil)
	r.Header.Set("X-User-ID", id.String())
	got := IdentityFromRequest(r)
	check.True(t, got.Valid)
	check.Equal(t, id, got.UserID)

	r = httptest.NewRequest(http.MethodGet, "/ws/auction?user_id="+id.String(), nil)
	uid, ok := IdentityFromRequest(r).Identity(context.Background())
	check.True(t, ok)
	check.Equal(t, id, uid)

	r = httptest.NewRequest(http.MethodGet, "/ws/auction?user_id=someone", nil)
	check.False(t, IdentityFromRequest(r).Valid)

	r = httptest.NewRequest(http.MethodGet, "/ws/auction", nil)
	check.False(t, IdentityFromRequest(r).Valid)
}
