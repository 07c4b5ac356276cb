package reload

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svelumani/MusicianManager-sub005/pkg/logger"
)

var testRemap = map[string]string{
	"/planner": "/events/planner",
	"/monthly": "/contracts/monthly",
}

func TestBuildURL(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	t.Run("appends token and preserves query", func(t *testing.T) {
		got, err := BuildURL("/events/planner?month=2026-08&venue=12", testRemap, now, "a1b2c3d4")
		require.NoError(t, err)

		u, err := url.Parse(got)
		require.NoError(t, err)
		assert.Equal(t, "/events/planner", u.Path)
		assert.Equal(t, "2026-08", u.Query().Get("month"))
		assert.Equal(t, "12", u.Query().Get("venue"))
		assert.Equal(t, "1700000000000-a1b2c3d4", u.Query().Get(TokenParam))
	})

	t.Run("remaps legacy path", func(t *testing.T) {
		got, err := BuildURL("/planner?month=2026-08", testRemap, now, "s")
		require.NoError(t, err)

		u, _ := url.Parse(got)
		assert.Equal(t, "/events/planner", u.Path)
		assert.Equal(t, "2026-08", u.Query().Get("month"))
	})

	t.Run("distinct per attempt", func(t *testing.T) {
		a, err := BuildURL("/contracts/monthly", testRemap, now, "salt-a")
		require.NoError(t, err)
		b, err := BuildURL("/contracts/monthly", testRemap, now, "salt-b")
		require.NoError(t, err)
		assert.NotEqual(t, a, b, "same timestamp still yields distinct URLs")
	})

	t.Run("pure", func(t *testing.T) {
		a, _ := BuildURL("/x?k=v", testRemap, now, "s")
		b, _ := BuildURL("/x?k=v", testRemap, now, "s")
		assert.Equal(t, a, b)
	})
}

func TestHasToken(t *testing.T) {
	now := time.UnixMilli(42)

	assert.False(t, HasToken("/events/planner?month=2026-08"))
	assert.False(t, HasToken("/events/planner"))

	built, err := BuildURL("/events/planner?month=2026-08", testRemap, now, "s")
	require.NoError(t, err)
	assert.True(t, HasToken(built), "a built URL must be recognized as post-reload")
}

type fakeNavigator struct {
	targets []string
	err     error
}

func (n *fakeNavigator) Navigate(url string) error {
	n.targets = append(n.targets, url)
	return n.err
}

type fakeClearer struct{ cleared int }

func (c *fakeClearer) Clear() { c.cleared++ }

func TestTriggerReload(t *testing.T) {
	nav := &fakeNavigator{}
	clearer := &fakeClearer{}

	tr := NewTrigger(testRemap, nav, clearer, logger.Nop())
	tr.Now = func() time.Time { return time.UnixMilli(99) }
	tr.Salt = func() string { return "fixedsalt" }

	require.NoError(t, tr.Reload("/planner?month=2026-08"))

	require.Len(t, nav.targets, 1)
	u, _ := url.Parse(nav.targets[0])
	assert.Equal(t, "/events/planner", u.Path)
	assert.Equal(t, "99-fixedsalt", u.Query().Get(TokenParam))
	assert.Equal(t, 1, clearer.cleared, "query cache is cleared before navigating")
}

func TestTriggerNavigationError(t *testing.T) {
	nav := &fakeNavigator{err: errors.New("window gone")}
	tr := NewTrigger(nil, nav, nil, logger.Nop())

	err := tr.Reload("/events/planner")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "navigation")
}
