package apperrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusCode_MapsEachKind(t *testing.T) {
	cases := map[Kind]int{
		KindBackendNotFound:       http.StatusNotFound,
		KindSuffixNotFound:        http.StatusNotFound,
		KindAcquireTimeout:        http.StatusServiceUnavailable,
		KindBackendTransportError: http.StatusInternalServerError,
		KindMalformedResponse:     http.StatusBadGateway,
		KindSpawnFailed:           http.StatusInternalServerError,
		KindWorkerDied:            http.StatusInternalServerError,
		KindProjectParseError:     http.StatusInternalServerError,
	}

	for kind, want := range cases {
		err := New(kind, "boom", nil)
		require.Equal(t, want, StatusCode(err), "kind=%s", kind)
	}
}

func TestStatusCode_NonApperror(t *testing.T) {
	require.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("plain")))
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("dial refused")
	err := New(KindBackendTransportError, "connect", cause)

	require.True(t, errors.Is(err, cause))
	require.Contains(t, err.Error(), "dial refused")
}
