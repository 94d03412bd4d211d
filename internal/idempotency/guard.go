// Package idempotency deduplicates concurrent and retried requests that share
// a logical operation key. The guard state lives in the shared Redis counter
// store so that racing callers on different instances observe one another:
// only the first Begin for a key transitions it from absent to processing,
// everyone else sees processing (reject or wait) or the cached completed
// result (replay without side effects).
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Begin outcomes.
const (
	StateNew        = "new"
	StateProcessing = "processing"
	StateCompleted  = "completed"
)

// processingMarker is the stored value while an execution holds the key.
// Completed results are stored as the serialized result payload, which is
// never this sentinel (results are JSON objects).
const processingMarker = "__processing__"

// Guard implements begin/complete/release over atomic conditional-set
// operations. A nil Guard (no Redis configured) treats every Begin as new,
// the fail-open posture; duplicate suppression then rests on the
// client retry discipline alone.
type Guard struct {
	client      *redis.Client
	pendingTTL  time.Duration
	completeTTL time.Duration
}

// New builds a Guard. client may be nil, which disables deduplication.
func New(client *redis.Client, pendingTTL, completedTTL time.Duration) *Guard {
	if client == nil {
		return nil
	}
	return &Guard{client: client, pendingTTL: pendingTTL, completeTTL: completedTTL}
}

// BeginResult reports what Begin found for a key.
type BeginResult struct {
	State        string
	CachedResult string // serialized result, set when State == StateCompleted
}

// Begin atomically claims key for the caller. The SetNX is the linearization
// point: exactly one racing caller gets StateNew; the rest observe the
// processing marker (short TTL) or a completed payload (long TTL).
//
// Store errors fail open (StateNew) so an unavailable Redis degrades
// deduplication rather than blocking all traffic.
func (g *Guard) Begin(ctx context.Context, key string) BeginResult {
	if g == nil || g.client == nil || key == "" {
		return BeginResult{State: StateNew}
	}

	ok, err := g.client.SetNX(ctx, key, processingMarker, g.pendingTTL).Result()
	if err != nil {
		log.Warn().Err(err).Msg("idempotency store unavailable, failing open")
		return BeginResult{State: StateNew}
	}
	if ok {
		return BeginResult{State: StateNew}
	}

	val, err := g.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Marker expired between SetNX and Get; claim is gone, retry once.
			if ok, rerr := g.client.SetNX(ctx, key, processingMarker, g.pendingTTL).Result(); rerr == nil && ok {
				return BeginResult{State: StateNew}
			}
			return BeginResult{State: StateProcessing}
		}
		log.Warn().Err(err).Msg("idempotency store unavailable, failing open")
		return BeginResult{State: StateNew}
	}
	if val == processingMarker {
		return BeginResult{State: StateProcessing}
	}
	return BeginResult{State: StateCompleted, CachedResult: val}
}

// Complete overwrites the key with the serialized result under the longer
// completed TTL, so byte-identical resubmissions replay it without
// re-executing side effects.
func (g *Guard) Complete(ctx context.Context, key, result string) {
	if g == nil || g.client == nil || key == "" {
		return
	}
	if err := g.client.Set(ctx, key, result, g.completeTTL).Err(); err != nil {
		log.Warn().Err(err).Msg("idempotency complete failed")
	}
}

// Release deletes the key so a legitimate retry after a hard failure is not
// stuck behind a permanently-processing record.
func (g *Guard) Release(ctx context.Context, key string) {
	if g == nil || g.client == nil || key == "" {
		return
	}
	if err := g.client.Del(ctx, key).Err(); err != nil {
		log.Warn().Err(err).Msg("idempotency release failed")
	}
}

// KeyFromParams derives a deterministic key from normalized request
// parameters: sorted key=value pairs hashed together with the subject, so the
// same logical operation always maps to the same key.
func KeyFromParams(subjectID, operation string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(subjectID)
	b.WriteByte('|')
	b.WriteString(operation)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return "idem:" + hex.EncodeToString(sum[:])
}

// KeyFromContent derives a key from a cryptographic hash of uploaded bytes,
// collapsing byte-identical resubmissions of the same artifact by the same
// subject into one execution.
func KeyFromContent(subjectID, operation string, content []byte) string {
	h := sha256.New()
	h.Write([]byte(subjectID))
	h.Write([]byte{'|'})
	h.Write([]byte(operation))
	h.Write([]byte{'|'})
	h.Write(content)
	return "idem:" + hex.EncodeToString(h.Sum(nil))
}
