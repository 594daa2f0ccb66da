package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfAndWrapping(t *testing.T) {
	base := NotFound("device %s not found", "m-1")
	wrapped := fmt.Errorf("lookup: %w", base)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrUnauthorized))
	assert.Equal(t, "device m-1 not found", Message(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestDefaultSuggestions(t *testing.T) {
	comm := DeviceCommunication("10.0.0.5", "/api/v1/info", 503, true, nil, "request failed")
	assert.Equal(t, "verify device is powered on and reachable", Suggestion(comm))

	unauth := Unauthorized("token rejected")
	assert.Equal(t, "re-register and check credentials", Suggestion(unauth))

	custom := Validation("bad pool url").WithSuggestion("use stratum+tcp://")
	assert.Equal(t, "use stratum+tcp://", Suggestion(custom))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(DeviceCommunication("h", "/p", 500, true, nil, "x")))
	assert.False(t, IsRetryable(DeviceCommunication("h", "/p", 404, false, nil, "x")))
	assert.False(t, IsRetryable(Unauthorized("x")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		Validation("x"):    http.StatusBadRequest,
		NotFound("x"):      http.StatusNotFound,
		Unauthorized("x"):  http.StatusUnauthorized,
		AlreadyExists("x"): http.StatusConflict,
		DeviceCommunication("h", "/p", 0, true, nil, "x"): http.StatusBadGateway,
		errors.New("x"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

func TestErrorStringCarriesDeviceContext(t *testing.T) {
	err := DeviceCommunication("10.0.0.5", "/api/v1/info", 502, true, errors.New("bad gateway"), "request failed after 3 retries")
	assert.Contains(t, err.Error(), "host=10.0.0.5")
	assert.Contains(t, err.Error(), "endpoint=/api/v1/info")
	assert.Contains(t, err.Error(), "bad gateway")
}
