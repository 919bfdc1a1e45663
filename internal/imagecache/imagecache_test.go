package imagecache

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/critterkeep/internal/apperr"
)

// stubFetcher serves canned bodies and counts calls per URL.
type stubFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	errs   map[string]error
	calls  map[string]int
	block  chan struct{}
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{bodies: map[string][]byte{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls[url]++
	body, err, block := f.bodies[url], f.errs[url], f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, apperr.FromStatus("fetch", 404)
	}
	return body, nil
}

func (f *stubFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 11), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestCache(t *testing.T, maxBytes int64, f Fetcher) *Cache {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "images"), maxBytes, f, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestKeyIsDeterministic(t *testing.T) {
	url := "https://img.example/critters/hazelnut-father.png"
	assert.Equal(t, Key(url), Key(url))
	assert.Len(t, Key(url), 64)
	assert.NotEqual(t, Key(url), Key(url+"?v=2"))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Key(""))
}

func TestFetchAndStoreCachesDecodedImage(t *testing.T) {
	f := newStubFetcher()
	url := "https://img.example/a.png"
	f.bodies[url] = pngBytes(t, 4, 3)
	c := newTestCache(t, 0, f)

	img, err := c.FetchAndStore(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	data, ok := c.Get(url)
	require.True(t, ok)
	assert.Equal(t, f.bodies[url], data)

	// Served from disk the second time.
	_, err = c.FetchAndStore(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, 1, f.callCount(url))
}

func TestFetchAndStoreRejectsCorruptDownload(t *testing.T) {
	f := newStubFetcher()
	url := "https://img.example/broken.png"
	f.bodies[url] = []byte("<html>not an image</html>")
	c := newTestCache(t, 0, f)

	_, err := c.FetchAndStore(context.Background(), url)
	assert.True(t, errors.Is(err, apperr.ErrDecoding), "got %v", err)

	_, ok := c.Get(url)
	assert.False(t, ok)
	_, statErr := os.Stat(c.Path(url))
	assert.True(t, os.IsNotExist(statErr))

	size, err := c.Size()
	require.NoError(t, err)
	assert.Zero(t, size, "no temp files or partial entries remain")
}

func TestFetchAndStorePropagatesFetchError(t *testing.T) {
	f := newStubFetcher()
	url := "https://img.example/gone.png"
	c := newTestCache(t, 0, f)

	_, err := c.FetchAndStore(context.Background(), url)
	assert.True(t, errors.Is(err, apperr.ErrHTTP) || errors.Is(err, apperr.ErrNotFound), "got %v", err)
	_, ok := c.Get(url)
	assert.False(t, ok)
}

func TestFetchAndStoreReplacesCorruptEntry(t *testing.T) {
	f := newStubFetcher()
	url := "https://img.example/a.png"
	f.bodies[url] = pngBytes(t, 2, 2)
	c := newTestCache(t, 0, f)

	require.NoError(t, os.WriteFile(c.Path(url), []byte("garbage"), 0600))

	_, err := c.FetchAndStore(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, 1, f.callCount(url))

	data, ok := c.Get(url)
	require.True(t, ok)
	assert.Equal(t, f.bodies[url], data)
}

func TestClearLeavesUsableCache(t *testing.T) {
	f := newStubFetcher()
	url := "https://img.example/a.png"
	f.bodies[url] = pngBytes(t, 2, 2)
	c := newTestCache(t, 0, f)

	_, err := c.FetchAndStore(context.Background(), url)
	require.NoError(t, err)
	size, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(len(f.bodies[url])), size)

	require.NoError(t, c.Clear())
	size, err = c.Size()
	require.NoError(t, err)
	assert.Zero(t, size)
	_, ok := c.Get(url)
	assert.False(t, ok)

	_, err = c.FetchAndStore(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, 2, f.callCount(url))
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	f := newStubFetcher()
	urls := []string{"https://img.example/1.png", "https://img.example/2.png", "https://img.example/3.png"}
	for _, u := range urls {
		f.bodies[u] = pngBytes(t, 8, 8)
	}
	entrySize := int64(len(f.bodies[urls[0]]))
	c := newTestCache(t, 2*entrySize+entrySize/2, f)
	ctx := context.Background()

	_, err := c.FetchAndStore(ctx, urls[0])
	require.NoError(t, err)
	_, err = c.FetchAndStore(ctx, urls[1])
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(c.Path(urls[0]), old, old))
	require.NoError(t, os.Chtimes(c.Path(urls[1]), old.Add(time.Minute), old.Add(time.Minute)))

	_, err = c.FetchAndStore(ctx, urls[2])
	require.NoError(t, err)

	_, ok := c.Get(urls[0])
	assert.False(t, ok, "oldest entry evicted")
	_, ok = c.Get(urls[1])
	assert.True(t, ok)
	_, ok = c.Get(urls[2])
	assert.True(t, ok)
}

func TestPrefetch(t *testing.T) {
	f := newStubFetcher()
	good := []string{"https://img.example/1.png", "https://img.example/2.png", "https://img.example/3.png"}
	for _, u := range good {
		f.bodies[u] = pngBytes(t, 2, 2)
	}
	bad := "https://img.example/bad.png"
	f.bodies[bad] = []byte("nope")
	c := newTestCache(t, 0, f)

	_, err := c.FetchAndStore(context.Background(), good[0])
	require.NoError(t, err)

	task := c.Prefetch(context.Background(), append(append([]string{}, good...), bad, good[1]), 2)
	err = task.Wait()
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrDecoding))

	for _, u := range good {
		_, ok := c.Get(u)
		assert.True(t, ok, u)
		assert.Equal(t, 1, f.callCount(u), "each url fetched once: %s", u)
	}
}

func TestPrefetchCancel(t *testing.T) {
	f := newStubFetcher()
	f.block = make(chan struct{})
	urls := []string{"https://img.example/1.png", "https://img.example/2.png"}
	for _, u := range urls {
		f.bodies[u] = pngBytes(t, 2, 2)
	}
	c := newTestCache(t, 0, f)

	task := c.Prefetch(context.Background(), urls, 1)
	task.Cancel()

	done := make(chan error, 1)
	go func() { done <- task.Wait() }()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("prefetch did not stop after Cancel")
	}

	for _, u := range urls {
		_, ok := c.Get(u)
		assert.False(t, ok)
	}
}

func TestClearDuringFetchKeepsCacheUsable(t *testing.T) {
	f := newStubFetcher()
	var urls []string
	for i := 0; i < 20; i++ {
		u := "https://img.example/c" + string(rune('a'+i)) + ".png"
		f.bodies[u] = pngBytes(t, 2, 2)
		urls = append(urls, u)
	}
	c := newTestCache(t, 0, f)

	var wg sync.WaitGroup
	errs := make(chan error, len(urls))
	for _, u := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			_, err := c.FetchAndStore(context.Background(), u)
			errs <- err
		}(u)
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Clear())
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	require.NoError(t, c.Clear())
	_, err := c.FetchAndStore(context.Background(), urls[0])
	require.NoError(t, err)
	_, ok := c.Get(urls[0])
	assert.True(t, ok)
}
