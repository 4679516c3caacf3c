package deploy

import (
	"context"
	"sync"
	"time"

	appErr "github.com/archflow/engine/pkg/errors"
	"github.com/archflow/engine/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only if the stored token matches, so an
// expired lock reacquired by another run is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func lockKey(projectID uuid.UUID) string {
	return "deploy_lock:" + projectID.String()
}

// Guard serializes deployment runs per project. The in-process map settles
// races between goroutines of one process; the Redis token lock extends the
// guarantee across the API and worker processes. The TTL bounds how long a
// crashed holder can block a project.
type Guard struct {
	rdb *redis.Client
	ttl time.Duration

	mu   sync.Mutex
	held map[uuid.UUID]string
}

// NewGuard builds a guard. rdb may be nil, leaving only in-process
// protection, which is what tests use.
func NewGuard(rdb *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Guard{rdb: rdb, ttl: ttl, held: make(map[uuid.UUID]string)}
}

// TryAcquire takes the project's deployment slot. It either returns a
// release function or a deployment_in_progress error; it never blocks
// waiting for the holder. release is idempotent.
func (g *Guard) TryAcquire(ctx context.Context, projectID uuid.UUID) (func(), error) {
	token := uuid.New().String()

	g.mu.Lock()
	if _, busy := g.held[projectID]; busy {
		g.mu.Unlock()
		return nil, appErr.New(appErr.CodeDeploymentInProgress, "a deployment is already running for this project")
	}
	g.held[projectID] = token
	g.mu.Unlock()

	if g.rdb != nil {
		ok, err := g.rdb.SetNX(ctx, lockKey(projectID), token, g.ttl).Result()
		if err != nil {
			g.forget(projectID)
			return nil, appErr.Wrap(err, appErr.CodeUnavailable, "deployment lock unavailable")
		}
		if !ok {
			g.forget(projectID)
			return nil, appErr.New(appErr.CodeDeploymentInProgress, "a deployment is already running for this project")
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.forget(projectID)
			if g.rdb != nil {
				if err := releaseScript.Run(context.Background(), g.rdb, []string{lockKey(projectID)}, token).Err(); err != nil && err != redis.Nil {
					logger.L().Warn("deployment lock release failed",
						zap.String("project_id", projectID.String()), zap.Error(err))
				}
			}
		})
	}
	return release, nil
}

// Held reports whether a deployment currently holds the project's slot, in
// this process or any other.
func (g *Guard) Held(ctx context.Context, projectID uuid.UUID) bool {
	g.mu.Lock()
	_, busy := g.held[projectID]
	g.mu.Unlock()
	if busy {
		return true
	}
	if g.rdb == nil {
		return false
	}
	n, err := g.rdb.Exists(ctx, lockKey(projectID)).Result()
	if err != nil {
		// fail closed so a flaky Redis cannot let two runs overlap
		logger.L().Warn("deployment lock check failed",
			zap.String("project_id", projectID.String()), zap.Error(err))
		return true
	}
	return n > 0
}

func (g *Guard) forget(projectID uuid.UUID) {
	g.mu.Lock()
	delete(g.held, projectID)
	g.mu.Unlock()
}
