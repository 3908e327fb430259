package tokenizer

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamim/pairforge/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// wordLoader maps each whitespace-separated word to its length
func wordLoader(calls *int32) Loader {
	return func() (EncodeFunc, error) {
		atomic.AddInt32(calls, 1)
		return func(text string) ([]int, error) {
			var ids []int
			for _, w := range strings.Fields(text) {
				ids = append(ids, len(w))
			}
			return ids, nil
		}, nil
	}
}

func TestRegistryLoadsLazilyOnce(t *testing.T) {
	var calls int32
	r := NewRegistry(testLogger())
	require.NoError(t, r.Register("words", wordLoader(&calls)))

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "loader must not run at registration")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := r.Encode("words", "help me bake a cake")
			assert.NoError(t, err)
			assert.Equal(t, []int{4, 2, 4, 1, 4}, ids)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRegistryLoadFailureIsCachedAndFatal(t *testing.T) {
	var calls int32
	r := NewRegistry(testLogger())
	require.NoError(t, r.Register("broken", func() (EncodeFunc, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("401 unauthorized")
	}))

	for i := 0; i < 3; i++ {
		_, err := r.Encode("broken", "text")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrTokenizerUnavailable))
		assert.Contains(t, err.Error(), "401 unauthorized")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "failed loads are not retried")
}

func TestRegistryUnknownTokenizer(t *testing.T) {
	r := NewRegistry(testLogger())
	_, err := r.Encode("missing", "text")
	assert.True(t, errors.Is(err, ErrTokenizerUnavailable))
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	var calls int32
	r := NewRegistry(testLogger())
	require.NoError(t, r.Register("a", wordLoader(&calls)))
	assert.Error(t, r.Register("a", wordLoader(&calls)))
}

func TestPreloadStopsAtFirstFailure(t *testing.T) {
	var good, after int32
	r := NewRegistry(testLogger())
	require.NoError(t, r.Register("qwen2", wordLoader(&good)))
	require.NoError(t, r.Register("llama3", func() (EncodeFunc, error) {
		return nil, errors.New("network down")
	}))
	require.NoError(t, r.Register("solar", wordLoader(&after)))

	err := r.Preload()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTokenizerUnavailable))
	assert.Contains(t, err.Error(), "llama3")
	assert.Equal(t, int32(1), good)
	assert.Equal(t, int32(0), after)
	assert.Equal(t, []string{"qwen2", "llama3", "solar"}, r.Names())
}

func TestEncodeErrorIsWrapped(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.Register("flaky", func() (EncodeFunc, error) {
		return func(string) ([]int, error) { return nil, errors.New("bad input") }, nil
	}))

	_, err := r.Encode("flaky", "x")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTokenizerUnavailable))
	assert.Contains(t, err.Error(), "flaky")
}

func TestFromConfigDoesNotLoad(t *testing.T) {
	r, err := FromConfig(config.DefaultTokenizers(), Options{CacheDir: t.TempDir()}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"qwen2", "llama3", "solar"}, r.Names())

	_, err = FromConfig([]config.TokenizerConfig{{Name: "x", Backend: "spm"}}, Options{}, testLogger())
	assert.Error(t, err)
}

func TestCounterFallsBackWhenEncodingUnknown(t *testing.T) {
	c := NewCounter("no_such_encoding")
	assert.Equal(t, 3, c.Count("twelve chars"))
	assert.Equal(t, 0, c.Count(""))
}
