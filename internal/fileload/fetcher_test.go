package fileload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/mediafetch/internal/location"
	"github.com/italolelis/mediafetch/internal/taskqueue"
	"github.com/italolelis/mediafetch/internal/transfer"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

var testDocument = location.Document{ID: 99, AccessHash: 1234, DatacenterID: 2}

// content returns a deterministic blob so misplaced chunks are detectable.
func content(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}

	return b
}

// blobFetcher serves slices of data and records every request.
type blobFetcher struct {
	mu          sync.Mutex
	data        []byte
	requests    []transfer.ChunkRequest
	inFlight    int
	maxInFlight int
	delay       time.Duration
	failAt      map[int64]error
	truncateAt  map[int64]int
}

func (f *blobFetcher) Fetch(ctx context.Context, req transfer.ChunkRequest) ([]byte, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	err := f.failAt[req.Offset]
	cut, truncated := f.truncateAt[req.Offset]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}

	if req.Offset >= int64(len(f.data)) {
		return []byte{}, nil
	}

	end := min(req.Offset+req.Limit, int64(len(f.data)))
	chunk := f.data[req.Offset:end]

	if truncated {
		chunk = chunk[:cut]
	}

	return append([]byte(nil), chunk...), nil
}

func (f *blobFetcher) Requests() []transfer.ChunkRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]transfer.ChunkRequest(nil), f.requests...)
}

func (f *blobFetcher) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.maxInFlight
}

type fetchCall struct {
	req   transfer.ChunkRequest
	reply chan fetchReply
}

type fetchReply struct {
	data []byte
	err  error
}

// gatedFetcher hands every request to the test, which decides when and how
// it completes.
type gatedFetcher struct {
	calls chan fetchCall
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{calls: make(chan fetchCall, 16)}
}

func (g *gatedFetcher) Fetch(ctx context.Context, req transfer.ChunkRequest) ([]byte, error) {
	call := fetchCall{req: req, reply: make(chan fetchReply, 1)}

	select {
	case g.calls <- call:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-call.reply:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedFetcher) next(t *testing.T) fetchCall {
	t.Helper()

	select {
	case c := <-g.calls:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a chunk request")

		return fetchCall{}
	}
}

// collect waits for n requests and indexes them by offset, since dispatch
// order across goroutines is not fixed.
func (g *gatedFetcher) collect(t *testing.T, n int) map[int64]fetchCall {
	t.Helper()

	calls := make(map[int64]fetchCall, n)
	for i := 0; i < n; i++ {
		c := g.next(t)
		calls[c.req.Offset] = c
	}

	require.Len(t, calls, n, "duplicate chunk offsets")

	return calls
}

func (g *gatedFetcher) expectIdle(t *testing.T) {
	t.Helper()

	select {
	case c := <-g.calls:
		t.Fatalf("unexpected chunk request at offset %d", c.req.Offset)
	case <-time.After(50 * time.Millisecond):
	}
}

// recorder is a Delegate that remembers every callback.
type recorder struct {
	mu        sync.Mutex
	finished  []string
	failed    []FailureCode
	errs      []error
	progress  []float32
	terminals chan struct{}
}

func newRecorder() *recorder {
	return &recorder{terminals: make(chan struct{}, 4)}
}

func (r *recorder) OnFinished(_ *Operation, finalPath string) {
	r.mu.Lock()
	r.finished = append(r.finished, finalPath)
	r.mu.Unlock()

	r.terminals <- struct{}{}
}

func (r *recorder) OnFailed(_ *Operation, code FailureCode, err error) {
	r.mu.Lock()
	r.failed = append(r.failed, code)
	r.errs = append(r.errs, err)
	r.mu.Unlock()

	r.terminals <- struct{}{}
}

func (r *recorder) OnProgress(_ *Operation, fraction float32) {
	r.mu.Lock()
	r.progress = append(r.progress, fraction)
	r.mu.Unlock()
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()

	select {
	case <-r.terminals:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for the download to end")
	}
}

// settle waits briefly and asserts exactly one terminal callback happened.
func (r *recorder) settle(t *testing.T) {
	t.Helper()

	time.Sleep(50 * time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()

	require.Equal(t, 1, len(r.finished)+len(r.failed), "terminal callbacks")
}

func (r *recorder) snapshot() (finished []string, failed []FailureCode, errs []error, progress []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.finished...),
		append([]FailureCode(nil), r.failed...),
		append([]error(nil), r.errs...),
		append([]float32(nil), r.progress...)
}

type harness struct {
	ctx      context.Context
	queue    *taskqueue.Queue
	storeDir string
	tempDir  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	q := taskqueue.New(ctx)

	t.Cleanup(func() {
		cancel()
		q.Close()
	})

	root := t.TempDir()

	return &harness{
		ctx:      ctx,
		queue:    q,
		storeDir: root + "/store",
		tempDir:  root + "/tmp",
	}
}

func (h *harness) document(size int64, fetcher transfer.Fetcher, d Delegate, opts ...Option) *Operation {
	opts = append([]Option{WithContext(h.ctx)}, opts...)

	op := NewDocumentOperation(testDocument, size, "clip.bin", "", fetcher, h.queue, opts...)
	op.SetPaths(h.storeDir, h.tempDir)
	op.SetDelegate(d)

	return op
}
