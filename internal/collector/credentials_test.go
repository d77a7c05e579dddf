package collector

import (
	"sync"
	"testing"

	"github.com/google/go-github/v55/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRotator(t *testing.T, n int) *Rotator {
	t.Helper()
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = "token"
	}
	rot, err := NewRotator(tokens, func(string) *github.Client { return github.NewClient(nil) })
	require.NoError(t, err)
	return rot
}

func TestRotator(t *testing.T) {
	t.Run("rejects an empty credential set", func(t *testing.T) {
		_, err := NewRotator(nil, func(string) *github.Client { return nil })

		assert.Error(t, err)
	})

	t.Run("rotation wraps around", func(t *testing.T) {
		rot := newTestRotator(t, 3)

		assert.Equal(t, 0, rot.Current().Index)
		assert.Equal(t, 1, rot.Rotate().Index)
		assert.Equal(t, 2, rot.Rotate().Index)
		assert.Equal(t, 0, rot.Rotate().Index)
		assert.Equal(t, 3, rot.Rotations())
	})

	t.Run("single credential rotates onto itself", func(t *testing.T) {
		rot := newTestRotator(t, 1)
		first := rot.Current()

		assert.Same(t, first, rot.Rotate())
	})

	t.Run("RotateFrom ignores a stale credential", func(t *testing.T) {
		rot := newTestRotator(t, 3)
		stale := rot.Current()
		rot.Rotate()

		got := rot.RotateFrom(stale)

		assert.Equal(t, 1, got.Index)
		assert.Equal(t, 1, rot.Rotations())
	})

	t.Run("concurrent RotateFrom on one credential rotates once", func(t *testing.T) {
		rot := newTestRotator(t, 4)
		exhausted := rot.Current()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rot.RotateFrom(exhausted)
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, rot.Rotations())
		assert.Equal(t, 1, rot.Current().Index)
	})
}

func TestNewClientFactory(t *testing.T) {
	t.Run("adds the trailing slash to the base URL", func(t *testing.T) {
		factory, err := NewClientFactory("https://ghe.example.com/api/v3")
		require.NoError(t, err)

		client := factory("abc")

		assert.Equal(t, "https://ghe.example.com/api/v3/", client.BaseURL.String())
	})

	t.Run("empty base URL keeps the public API", func(t *testing.T) {
		factory, err := NewClientFactory("")
		require.NoError(t, err)

		assert.Equal(t, "https://api.github.com/", factory("abc").BaseURL.String())
	})
}
