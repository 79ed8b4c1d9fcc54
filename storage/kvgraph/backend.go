// Package kvgraph stores graph snapshots in a NATS JetStream KV bucket.
//
// The graph is committed through one head key. The head holds a small
// manifest: snapshots that fit in one value are inlined, larger ones are split
// into chunk keys written before the head. The KV revision of the head is the
// graph revision, so CAS on the head gives every unit of work serializable
// commits across processes.
//
// Chunk keys are unique per commit and never rewritten. A commit deletes the
// chunks of the manifest it replaced; a reader that finds a chunk missing
// re-reads the head.
package kvgraph

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/sensorgraph/errors"
	"github.com/c360/sensorgraph/graph"
	"github.com/c360/sensorgraph/natsclient"
)

const (
	// DefaultBucket is the KV bucket used when none is configured
	DefaultBucket = "SENSOR_GRAPH"
	// DefaultKey is the head key
	DefaultKey = "graph"

	manifestFormat = "sensorgraph.kvgraph.v1"

	// room left in every value for the JetStream headers and subject
	valueHeadroom = 4 * 1024
	// room left in an inline manifest for everything but the payload
	manifestOverhead = 256
	// head reads while chunks keep being retired under a reader
	maxLoadAttempts = 5
)

var errChunkMissing = stderrors.New("snapshot chunk missing")

// KV is the subset of natsclient.KVStore the backend needs.
type KV interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string) error
	MaxValueSize() int
}

// manifest is the head value. Inline and Chunks are mutually exclusive.
type manifest struct {
	Format string   `json:"format"`
	Size   int      `json:"size"`
	Inline []byte   `json:"inline,omitempty"`
	Chunks []string `json:"chunks,omitempty"`
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used for chunk cleanup failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Backend implements graph.Backend over a KV bucket.
type Backend struct {
	kv     KV
	key    string
	ping   func(context.Context) error
	logger *slog.Logger

	mu   sync.Mutex
	last struct {
		rev    uint64
		data   []byte
		chunks []string
	}
}

// New wraps an existing KV store.
func New(kv KV, key string, opts ...Option) *Backend {
	if key == "" {
		key = DefaultKey
	}
	b := &Backend{
		kv:     kv,
		key:    key,
		logger: slog.Default().With("component", "kvgraph"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open ensures the bucket exists on client and returns a backend over it.
func Open(ctx context.Context, client *natsclient.Client, bucket, key string, opts ...Option) (*Backend, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kvb, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "sensor graph snapshots",
		History:     1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "kvgraph", "Open", fmt.Sprintf("open bucket %s", bucket))
	}
	b := New(natsclient.NewKVStore(kvb), key, opts...)
	b.ping = client.Ping
	return b, nil
}

// Name implements graph.Backend.
func (b *Backend) Name() string { return "nats-kv" }

// chunkSize is the largest value written to one key.
func (b *Backend) chunkSize() int {
	size := b.kv.MaxValueSize()
	if size <= 0 {
		size = natsclient.DefaultKVOptions().MaxValueSize
	}
	if size > 4*valueHeadroom {
		size -= valueHeadroom
	}
	return size
}

// inlineLimit is the largest snapshot stored in the head itself. Inline bytes
// are base64 encoded in the manifest.
func (b *Backend) inlineLimit() int {
	n := (b.chunkSize() - manifestOverhead) / 4 * 3
	if n < 0 {
		return 0
	}
	return n
}

// Load implements graph.Backend.
func (b *Backend) Load(ctx context.Context) ([]byte, uint64, error) {
	for attempt := 1; ; attempt++ {
		entry, err := b.kv.Get(ctx, b.key)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				return nil, 0, nil
			}
			return nil, 0, errors.WrapTransient(err, "kvgraph", "Load", "get head")
		}
		if data, ok := b.cached(entry.Revision); ok {
			return data, entry.Revision, nil
		}

		m, legacy, err := decodeManifest(entry.Value)
		if err != nil {
			return nil, 0, err
		}
		if legacy {
			b.remember(entry.Revision, entry.Value, nil)
			return entry.Value, entry.Revision, nil
		}

		data, err := b.assemble(ctx, m)
		if err == nil {
			b.remember(entry.Revision, data, m.Chunks)
			return data, entry.Revision, nil
		}
		if !stderrors.Is(err, errChunkMissing) {
			return nil, 0, err
		}

		// a chunk retired under us is only corruption if the head did not move
		head, herr := b.kv.Get(ctx, b.key)
		if herr == nil && head.Revision == entry.Revision {
			return nil, 0, errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrSnapshotCorrupted, err),
				"kvgraph", "Load", "read chunks")
		}
		if attempt == maxLoadAttempts {
			return nil, 0, errors.WrapTransient(err, "kvgraph", "Load", "read chunks")
		}
	}
}

func decodeManifest(value []byte) (manifest, bool, error) {
	var m manifest
	if err := json.Unmarshal(value, &m); err != nil {
		return m, false, errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrSnapshotCorrupted, err),
			"kvgraph", "Load", "decode head")
	}
	switch m.Format {
	case "":
		// heads written before manifests hold the snapshot itself
		return m, true, nil
	case manifestFormat:
		return m, false, nil
	default:
		return m, false, errors.WrapFatal(fmt.Errorf("%w: head format %q", errors.ErrSnapshotCorrupted, m.Format),
			"kvgraph", "Load", "decode head")
	}
}

func (b *Backend) assemble(ctx context.Context, m manifest) ([]byte, error) {
	if len(m.Chunks) == 0 {
		if len(m.Inline) != m.Size {
			return nil, errors.WrapFatal(fmt.Errorf("%w: inline snapshot is %d bytes, head says %d",
				errors.ErrSnapshotCorrupted, len(m.Inline), m.Size), "kvgraph", "Load", "check size")
		}
		return m.Inline, nil
	}

	data := make([]byte, 0, m.Size)
	for _, key := range m.Chunks {
		entry, err := b.kv.Get(ctx, key)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				return nil, fmt.Errorf("%w: %s", errChunkMissing, key)
			}
			return nil, errors.WrapTransient(err, "kvgraph", "Load", "get chunk")
		}
		data = append(data, entry.Value...)
	}
	if len(data) != m.Size {
		return nil, errors.WrapFatal(fmt.Errorf("%w: chunks hold %d bytes, head says %d",
			errors.ErrSnapshotCorrupted, len(data), m.Size), "kvgraph", "Load", "check size")
	}
	return data, nil
}

// Save implements graph.Backend.
func (b *Backend) Save(ctx context.Context, data []byte, expected uint64) (uint64, error) {
	m, parts := b.split(data)
	head, err := json.Marshal(m)
	if err != nil {
		return 0, errors.WrapFatal(err, "kvgraph", "Save", "encode head")
	}
	if len(head) > b.chunkSize() {
		return 0, errors.WrapFatal(fmt.Errorf("%w: %d bytes in %d chunks needs a %d byte head, limit %d",
			graph.ErrSnapshotTooLarge, len(data), len(parts), len(head), b.chunkSize()), "kvgraph", "Save", "size check")
	}

	retired := b.chunksAt(ctx, expected)

	for i, part := range parts {
		if _, err := b.kv.Create(ctx, m.Chunks[i], part); err != nil {
			b.discard(ctx, m.Chunks[:i])
			return 0, saveError(err, "write chunk")
		}
	}

	var rev uint64
	if expected == 0 {
		rev, err = b.kv.Create(ctx, b.key, head)
	} else {
		rev, err = b.kv.Update(ctx, b.key, head, expected)
	}
	if err != nil {
		b.discard(ctx, m.Chunks)
		return 0, saveError(err, "write head")
	}

	b.remember(rev, data, m.Chunks)
	b.discard(ctx, retired)
	return rev, nil
}

// split builds the manifest for data and the chunk values it names.
func (b *Backend) split(data []byte) (manifest, [][]byte) {
	m := manifest{Format: manifestFormat, Size: len(data)}
	if len(data) <= b.inlineLimit() {
		m.Inline = data
		return m, nil
	}

	size := b.chunkSize()
	commit := uuid.NewString()
	var parts [][]byte
	for off := 0; off < len(data); off += size {
		end := min(off+size, len(data))
		parts = append(parts, data[off:end])
		m.Chunks = append(m.Chunks, fmt.Sprintf("%s.chunk.%s.%d", b.key, commit, len(parts)-1))
	}
	return m, parts
}

// chunksAt returns the chunk keys of the head at rev, if it is still current.
func (b *Backend) chunksAt(ctx context.Context, rev uint64) []string {
	if rev == 0 {
		return nil
	}
	b.mu.Lock()
	if b.last.rev == rev {
		chunks := b.last.chunks
		b.mu.Unlock()
		return chunks
	}
	b.mu.Unlock()

	entry, err := b.kv.Get(ctx, b.key)
	if err != nil || entry.Revision != rev {
		return nil
	}
	m, _, err := decodeManifest(entry.Value)
	if err != nil {
		return nil
	}
	return m.Chunks
}

// discard deletes chunk keys no head refers to. Failures leave orphans that
// cost space only, so they are logged and not returned.
func (b *Backend) discard(ctx context.Context, keys []string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := b.kv.Delete(ctx, key); err != nil && !natsclient.IsKVNotFoundError(err) {
			b.logger.Warn("snapshot chunk not deleted", "key", key, "error", err)
		}
	}
}

func (b *Backend) cached(rev uint64) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rev != 0 && b.last.rev == rev {
		return b.last.data, true
	}
	return nil, false
}

func (b *Backend) remember(rev uint64, data []byte, chunks []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rev >= b.last.rev {
		b.last.rev, b.last.data, b.last.chunks = rev, data, chunks
	}
}

func saveError(err error, action string) error {
	switch {
	case natsclient.IsKVConflictError(err):
		return graph.ErrRevisionConflict
	case stderrors.Is(err, natsclient.ErrKVValueTooLarge):
		return errors.WrapFatal(fmt.Errorf("%w: %w", graph.ErrSnapshotTooLarge, err), "kvgraph", "Save", action)
	default:
		return errors.WrapTransient(err, "kvgraph", "Save", action)
	}
}

// Ping implements graph.Pinger.
func (b *Backend) Ping(ctx context.Context) error {
	if b.ping != nil {
		return b.ping(ctx)
	}
	_, err := b.kv.Get(ctx, b.key)
	if err != nil && !natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, "kvgraph", "Ping", "get head")
	}
	return nil
}

// Close implements graph.Backend. The NATS client is owned by the caller.
func (b *Backend) Close() error { return nil }
