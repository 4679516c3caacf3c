package types

import (
	"errors"
	"net/http"
	"testing"

	appErr "github.com/archflow/engine/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		want int
		err  error
	}{
		{http.StatusNotFound, appErr.New(appErr.CodeNotFound, "x")},
		{http.StatusBadRequest, appErr.New(appErr.CodeInvalid, "x")},
		{http.StatusConflict, appErr.New(appErr.CodeVersionConflict, "x")},
		{http.StatusConflict, appErr.New(appErr.CodeDeploymentInProgress, "x")},
		{http.StatusConflict, appErr.New(appErr.CodeWorkspaceBusy, "x")},
		{http.StatusUnprocessableEntity, appErr.New(appErr.CodeValidationFailed, "x")},
		{http.StatusBadGateway, appErr.New(appErr.CodePipelineFailed, "x")},
		{http.StatusServiceUnavailable, appErr.New(appErr.CodeUnavailable, "x")},
		{http.StatusInternalServerError, errors.New("plain")},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, StatusForError(tc.err), tc.err.Error())
	}
}

func TestFromAppErrorCarriesMeta(t *testing.T) {
	err := appErr.New(appErr.CodeVersionConflict, "stale write").WithMeta("latest_version", 4)
	out := FromAppError(err)
	require.Equal(t, "version_conflict", out.Code)
	require.Equal(t, "stale write", out.Message)
	require.Equal(t, map[string]any{"latest_version": 4}, out.Details)
}

func TestFromAppErrorUnwrapsNesting(t *testing.T) {
	inner := appErr.New(appErr.CodeNotFound, "gone")
	out := FromAppError(wrapPlain(inner))
	require.Equal(t, "not_found", out.Code)
}

func wrapPlain(err error) error {
	return &plainWrapper{err: err}
}

type plainWrapper struct{ err error }

func (w *plainWrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *plainWrapper) Unwrap() error { return w.err }
