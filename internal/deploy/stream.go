// Package deploy runs Terraform deployments: admission, workspace
// materialization, the apply/destroy state machine, and log streaming.
package deploy

import (
	"bytes"
	"context"
	"sync"

	"github.com/archflow/engine/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// subBuffer is the live channel capacity per subscriber. A subscriber that
// falls this far behind starts losing lines rather than stalling the run.
const subBuffer = 256

// Broadcaster fans one job's log lines out to any number of subscribers.
// Publishing never blocks on a slow consumer and lines are buffered so a
// late subscriber replays everything published so far before going live.
type Broadcaster struct {
	mu     sync.Mutex
	lines  []string
	subs   map[chan string]struct{}
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan string]struct{})}
}

// Publish appends a line and delivers it to live subscribers. Lines published
// after Close are dropped.
func (b *Broadcaster) Publish(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.lines = append(b.lines, line)
	for ch := range b.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Subscribe returns everything published so far plus a channel of subsequent
// lines. The channel closes when the broadcaster closes. cancel detaches the
// subscriber and is safe to call more than once.
func (b *Broadcaster) Subscribe() (replay []string, live <-chan string, cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	replay = make([]string, len(b.lines))
	copy(replay, b.lines)

	ch := make(chan string, subBuffer)
	if b.closed {
		close(ch)
		return replay, ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return replay, ch, cancel
}

// Close ends the stream. Subscriber channels are closed so range loops over
// them terminate. Idempotent.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan string]struct{})
}

// Tail returns up to n trailing lines.
func (b *Broadcaster) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n >= len(b.lines) {
		out := make([]string, len(b.lines))
		copy(out, b.lines)
		return out
	}
	out := make([]string, n)
	copy(out, b.lines[len(b.lines)-n:])
	return out
}

// Hub indexes the live broadcaster per job so API handlers can attach to a
// run in progress within the same process.
type Hub struct {
	mu      sync.Mutex
	streams map[uuid.UUID]*Broadcaster
}

func NewHub() *Hub {
	return &Hub{streams: make(map[uuid.UUID]*Broadcaster)}
}

// Open creates (or returns) the broadcaster for a job.
func (h *Hub) Open(jobID uuid.UUID) *Broadcaster {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.streams[jobID]; ok {
		return b
	}
	b := NewBroadcaster()
	h.streams[jobID] = b
	return b
}

// Lookup returns the broadcaster for a job if one is live.
func (h *Hub) Lookup(jobID uuid.UUID) (*Broadcaster, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.streams[jobID]
	return b, ok
}

// Drop closes and forgets the broadcaster for a finished job.
func (h *Hub) Drop(jobID uuid.UUID) {
	h.mu.Lock()
	b, ok := h.streams[jobID]
	delete(h.streams, jobID)
	h.mu.Unlock()
	if ok {
		b.Close()
	}
}

// LogChannel is the Redis pub/sub channel carrying a project's deployment
// logs across processes. The worker publishes, API websocket handlers
// subscribe.
func LogChannel(projectID uuid.UUID) string {
	return "deploy_logs:" + projectID.String()
}

// RedisPublisher relays log lines over Redis pub/sub so the API process can
// serve websocket subscribers for runs executing in the worker.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, projectID uuid.UUID, line string) {
	if p == nil || p.rdb == nil {
		return
	}
	if err := p.rdb.Publish(ctx, LogChannel(projectID), line).Err(); err != nil {
		logger.L().Debug("log relay publish failed", zap.Error(err))
	}
}

// lineWriter adapts an io.Writer into per-line emit calls. Terraform's stdout
// and stderr are plugged into one of these so every line reaches the stream
// the moment it is printed.
type lineWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	emit func(string)
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// partial line, keep it buffered
			w.buf.WriteString(line)
			break
		}
		w.emit(trimNewline(line))
	}
	return len(p), nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(trimNewline(w.buf.String()))
		w.buf.Reset()
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
