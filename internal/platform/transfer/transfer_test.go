package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "ISA*00*          *00*          *ZZ*PAYER~"

// =========== DirChannel ===========

func TestDirChannel_PutAndFetch(t *testing.T) {
	root := t.TempDir()
	d, err := NewDirChannel(root, "inbound", "outbound")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, d.Put(ctx, "837P_CLM0001_000001001.x12", []byte(sample)))
	got, err := os.ReadFile(filepath.Join(root, "outbound", "837P_CLM0001_000001001.x12"))
	require.NoError(t, err)
	assert.Equal(t, sample, string(got))

	entries, err := os.ReadDir(d.OutboundDir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files should be left behind")

	require.NoError(t, os.WriteFile(filepath.Join(d.InboundDir(), "b.835"), []byte(sample), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(d.InboundDir(), "a.999"), []byte(sample), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(d.InboundDir(), ".hidden"), []byte(sample), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(d.InboundDir(), "c.835.part"), []byte(sample), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(d.InboundDir(), "archive"), 0o750))

	names, err := d.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.999", "b.835"}, names)

	content, err := d.Fetch(ctx, "a.999")
	require.NoError(t, err)
	assert.Equal(t, sample, string(content))

	_, err = d.Fetch(ctx, "missing.835")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDirChannel_RejectsBadNames(t *testing.T) {
	d, err := NewDirChannel(t.TempDir(), "in", "out")
	require.NoError(t, err)
	for _, name := range []string{"", "..", "../escape.x12", `sub\file`, ".hidden"} {
		assert.ErrorIs(t, d.Put(context.Background(), name, nil), ErrInvalidName, name)
		_, err := d.Fetch(context.Background(), name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestDirChannel_AbsoluteSubdirs(t *testing.T) {
	in := t.TempDir()
	d, err := NewDirChannel(t.TempDir(), in, "out")
	require.NoError(t, err)
	assert.Equal(t, in, d.InboundDir())

	_, err = NewDirChannel("", "in", "out")
	assert.Error(t, err)
}

// =========== HTTPChannel ===========

type fakeClearinghouse struct {
	mu       sync.Mutex
	uploaded map[string][]byte
	inbound  map[string]string
	failures int32
	auth     string
}

func (f *fakeClearinghouse) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/outbound/", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&f.failures, -1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.uploaded[filepath.Base(r.URL.Path)] = body
		f.auth = r.Header.Get("Authorization")
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/inbound", func(w http.ResponseWriter, r *http.Request) {
		var listing inboundListing
		for name := range f.inbound {
			listing.Files = append(listing.Files, struct {
				Name string `json:"name"`
			}{name})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(listing)
	})
	mux.HandleFunc("/inbound/", func(w http.ResponseWriter, r *http.Request) {
		content, ok := f.inbound[filepath.Base(r.URL.Path)]
		if !ok {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, content)
	})
	return mux
}

func newHTTPChannel(t *testing.T, f *fakeClearinghouse, retries int) *HTTPChannel {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	h, err := NewHTTPChannel(HTTPConfig{
		BaseURL:           srv.URL,
		Token:             "secret",
		RequestsPerSecond: 1000,
		RetryCount:        retries,
	}, zerolog.Nop())
	require.NoError(t, err)
	return h
}

func TestHTTPChannel_Put(t *testing.T) {
	f := &fakeClearinghouse{uploaded: map[string][]byte{}, failures: 1}
	h := newHTTPChannel(t, f, 2)

	require.NoError(t, h.Put(context.Background(), "837P_CLM0001_000001001.x12", []byte(sample)))
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, sample, string(f.uploaded["837P_CLM0001_000001001.x12"]))
	assert.Equal(t, "Bearer secret", f.auth)
}

func TestHTTPChannel_PutFailsAfterRetries(t *testing.T) {
	f := &fakeClearinghouse{uploaded: map[string][]byte{}, failures: 10}
	h := newHTTPChannel(t, f, 1)

	err := h.Put(context.Background(), "837P_CLM0001_000001001.x12", []byte(sample))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPChannel_ListAndFetch(t *testing.T) {
	f := &fakeClearinghouse{inbound: map[string]string{"era.835": sample, "../etc": "nope"}}
	h := newHTTPChannel(t, f, 0)
	ctx := context.Background()

	names, err := h.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"era.835"}, names)

	content, err := h.Fetch(ctx, "era.835")
	require.NoError(t, err)
	assert.Equal(t, sample, string(content))

	_, err = h.Fetch(ctx, "missing.835")
	assert.Error(t, err)
}

func TestHTTPChannel_BacksOffOnTooManyRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	h, err := NewHTTPChannel(HTTPConfig{BaseURL: srv.URL, RequestsPerSecond: 1000}, zerolog.Nop())
	require.NoError(t, err)

	_, err = h.List(context.Background())
	require.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.List(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "the next call must wait for Retry-After")
}

func TestNewHTTPChannel_RequiresURL(t *testing.T) {
	_, err := NewHTTPChannel(HTTPConfig{}, zerolog.Nop())
	assert.Error(t, err)
}

// =========== Watcher ===========

func TestWatcher_Relevant(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "era.835")
	require.NoError(t, os.WriteFile(file, []byte(sample), 0o600))
	hidden := filepath.Join(dir, ".era.835")
	require.NoError(t, os.WriteFile(hidden, []byte(sample), 0o600))
	sub := filepath.Join(dir, "archive")
	require.NoError(t, os.Mkdir(sub, 0o750))

	w := NewWatcher(dir, nil, 0, zerolog.Nop())
	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"create", fsnotify.Event{Name: file, Op: fsnotify.Create}, true},
		{"write", fsnotify.Event{Name: file, Op: fsnotify.Write | fsnotify.Chmod}, true},
		{"chmod only", fsnotify.Event{Name: file, Op: fsnotify.Chmod}, false},
		{"remove", fsnotify.Event{Name: filepath.Join(dir, "gone.835"), Op: fsnotify.Remove}, false},
		{"hidden", fsnotify.Event{Name: hidden, Op: fsnotify.Create}, false},
		{"partial", fsnotify.Event{Name: filepath.Join(dir, "era.835.part"), Op: fsnotify.Create}, false},
		{"directory", fsnotify.Event{Name: sub, Op: fsnotify.Create}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, ok := w.relevant(tt.ev)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, "era.835", name)
			}
		})
	}
}

func TestWatcher_Due(t *testing.T) {
	w := NewWatcher(t.TempDir(), nil, time.Second, zerolog.Nop())
	start := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	w.touch("a.999", start)
	w.touch("b.835", start.Add(800*time.Millisecond))

	assert.Empty(t, w.due(start.Add(500*time.Millisecond)))
	assert.Equal(t, []string{"a.999"}, w.due(start.Add(time.Second)))
	assert.Empty(t, w.due(start.Add(time.Second)), "a due file is handed over once")
	assert.Equal(t, []string{"b.835"}, w.due(start.Add(2*time.Second)))
}

func TestWatcher_Run(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "existing.999"), []byte("first"), 0o600))

	got := make(chan string, 4)
	handle := func(ctx context.Context, name string, content []byte) error {
		got <- name + "=" + string(content)
		if name == "bad.835" {
			return errors.New("decode failed")
		}
		return nil
	}
	w := NewWatcher(dir, handle, 40*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor := func(want string) {
		t.Helper()
		select {
		case name := <-got:
			assert.Equal(t, want, name)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	waitFor("existing.999=first")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.835"), []byte("second"), 0o600))
	waitFor("bad.835=second")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
