package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sasta-kro/training-orchestrator/errs"
)

func TestStatusForError_MapsEveryKnownSentinel(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{errs.ErrAlreadyRunning, http.StatusBadRequest},
		{errs.ErrQuotaExceeded, http.StatusBadRequest},
		{errs.ErrUnknownExercise, http.StatusNotFound},
		{errs.ErrRuntimeUnavailable, http.StatusServiceUnavailable},
		{errs.ErrRuntimeRefused, http.StatusBadGateway},
		{errs.ErrInvalidBundle, http.StatusBadRequest},
		{errs.ErrBuildFailed, http.StatusUnprocessableEntity},
		{errs.ErrNotFound, http.StatusNotFound},
		{errs.ErrForbidden, http.StatusForbidden},
		{errs.ErrProxyUpstream, http.StatusBadGateway},
		{errs.ErrInternal, http.StatusInternalServerError},
	}

	for _, testCase := range cases {
		status, _ := statusForError(testCase.err)
		require.Equal(t, testCase.status, status, testCase.err.Error())
	}
}

func TestStatusForError_UnknownErrorDefaultsToInternal(t *testing.T) {
	status, message := statusForError(nil)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "Internal", message)
}
