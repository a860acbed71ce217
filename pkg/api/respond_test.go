package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lightdaemon/lightd/pkg/lightderr"
	"github.com/stretchr/testify/require"
)

func TestStatusForKindMapsKnownKinds(t *testing.T) {
	require.Equal(t, http.StatusNotFound, statusForKind(lightderr.NotFound))
	require.Equal(t, http.StatusConflict, statusForKind(lightderr.Conflict))
	require.Equal(t, http.StatusBadRequest, statusForKind(lightderr.Validation))
	require.Equal(t, http.StatusUnauthorized, statusForKind(lightderr.Unauthorized))
	require.Equal(t, http.StatusServiceUnavailable, statusForKind(lightderr.RuntimeUnavailable))
	require.Equal(t, http.StatusGatewayTimeout, statusForKind(lightderr.Timeout))
	require.Equal(t, http.StatusServiceUnavailable, statusForKind(lightderr.Exhausted))
}

func TestWriteErrorUsesKindStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, lightderr.New(lightderr.NotFound, "container not found"))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "container not found")
}

func TestWriteErrorDefaultsToInternalForUnknownErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, require.AnError)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
