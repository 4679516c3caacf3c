package deploy

import (
	"context"
	"testing"
	"time"

	appErr "github.com/archflow/engine/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newUUID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.New()
}

func TestGuardSerializesPerProject(t *testing.T) {
	g := NewGuard(nil, time.Minute)
	ctx := context.Background()
	projectID := newUUID(t)

	release, err := g.TryAcquire(ctx, projectID)
	require.NoError(t, err)
	require.True(t, g.Held(ctx, projectID))

	_, err = g.TryAcquire(ctx, projectID)
	require.True(t, appErr.IsCode(err, appErr.CodeDeploymentInProgress))

	release()
	require.False(t, g.Held(ctx, projectID))

	release2, err := g.TryAcquire(ctx, projectID)
	require.NoError(t, err)
	release2()
}

func TestGuardReleaseIsIdempotent(t *testing.T) {
	g := NewGuard(nil, time.Minute)
	ctx := context.Background()
	projectID := newUUID(t)

	release, err := g.TryAcquire(ctx, projectID)
	require.NoError(t, err)
	release()
	release()

	_, err = g.TryAcquire(ctx, projectID)
	require.NoError(t, err)
}

func TestGuardIsPerProject(t *testing.T) {
	g := NewGuard(nil, time.Minute)
	ctx := context.Background()

	relA, err := g.TryAcquire(ctx, newUUID(t))
	require.NoError(t, err)
	defer relA()

	relB, err := g.TryAcquire(ctx, newUUID(t))
	require.NoError(t, err)
	defer relB()
}
