package proxy

import (
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"searchveil/internal/config"
)

func TestBuildQuery(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		query    string
		args     url.Values
		settings config.Settings
		want     url.Values
	}{
		{
			name:  "plain",
			query: "golang generics",
			want:  url.Values{"q": {"golang generics"}, "safe": {"off"}},
		},
		{
			name:  "past range",
			query: "news :past week",
			want:  url.Values{"q": {"news :past week"}, "tbs": {"qdr:w"}, "safe": {"off"}},
		},
		{
			name:     "time period setting",
			query:    "news",
			settings: config.Settings{TimePeriod: "d", Safe: true},
			want:     url.Values{"q": {"news"}, "tbs": {"qdr:d"}, "safe": {"active"}},
		},
		{
			name:  "forwarded args",
			query: "cats",
			args:  url.Values{"tbm": {"isch"}, "start": {"20"}, "chips": {"q:cats"}, "nfpr": {"1"}, "ved": {"drop"}},
			want: url.Values{
				"q": {"cats"}, "tbm": {"isch"}, "start": {"20"}, "chips": {"q:cats"}, "nfpr": {"1"}, "safe": {"off"},
			},
		},
		{
			name:     "locale",
			query:    "bread",
			settings: config.Settings{Country: "de", LangInterface: "lang_de", LangSearch: "lang_fr", Near: "Berlin"},
			want: url.Values{
				"q": {"bread"}, "gl": {"de"}, "hl": {"de"}, "lr": {"lang_fr"}, "near": {"Berlin"}, "safe": {"off"},
			},
		},
		{
			name:  "source takes language from tbs",
			query: "bread",
			args:  url.Values{"source": {"lnt"}, "tbs": {"qdr:h,lr:lang_1pl"}},
			want: url.Values{
				"q": {"bread"}, "source": {"lnt"}, "tbs": {"qdr:h,lr:lang_1pl"}, "lr": {"lang_pl"}, "safe": {"off"},
			},
		},
		{
			name:     "blocked sites",
			query:    "recipes -site:a.example",
			settings: config.Settings{Block: "a.example, b.example,"},
			want:     url.Values{"q": {"recipes -site:a.example -site:b.example"}, "safe": {"off"}},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			args := tc.args
			if args == nil {
				args = url.Values{}
			}
			got, err := url.ParseQuery("q=" + buildQuery(tc.query, args, tc.settings))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSplitLucky(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in    string
		want  string
		lucky bool
	}{
		{"! cats", "cats", true},
		{"cats !", "cats", true},
		{"big ! cats", "big cats", true},
		{"!cats", "!cats", false},
		{"wow!", "wow!", false},
		{"!", "", true},
	}
	for _, tc := range tests {
		got, lucky := splitLucky(tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, tc.lucky, lucky, tc.in)
	}
}

func TestParseTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://example.com/a?b=c", "https://example.com/a?b=c", true},
		{"//cdn.example.com/x.png", "https://cdn.example.com/x.png", true},
		{"HTTP://Example.COM/", "http://Example.COM/", true},
		{"javascript:alert(1)", "", false},
		{"ftp://files.example.com/", "", false},
		{"https:///nohost", "", false},
		{"https://-bad-.example/", "", false},
		{"://broken", "", false},
	}
	for _, tc := range tests {
		u, ok := parseTarget(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		if ok {
			assert.Equal(t, tc.want, u.String())
		}
	}
}

func TestPublicRoot(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest("GET", "http://internal:5000/search", nil)
	assert.Equal(t, "http://internal:5000", publicRoot(r, ""))
	assert.Equal(t, "https://veil.example", publicRoot(r, "https://veil.example/"))

	r.Header.Set("X-Forwarded-Host", "veil.example, proxy.local")
	r.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "https://veil.example", publicRoot(r, ""))
}

func TestSafeParams(t *testing.T) {
	t.Parallel()
	args := url.Values{"new_tab": {"1"}, "theme": {"dark"}, "tbm": {"isch"}, "preferences": {"uabc"}}
	assert.Equal(t, "&theme=dark&new_tab=1&preferences=uabc", safeParams(args))
	assert.Empty(t, safeParams(url.Values{"q": {"x"}}))
}

func TestWantsNoJS(t *testing.T) {
	t.Parallel()
	assert.True(t, wantsNoJS(url.Values{"nojs": {"1"}}, false))
	assert.True(t, wantsNoJS(url.Values{"nojs": {""}}, false))
	assert.False(t, wantsNoJS(url.Values{"nojs": {"0"}}, true))
	assert.True(t, wantsNoJS(url.Values{}, true))
}

func TestSessionStoreExpiry(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newSessionStore(time.Hour, config.DefaultSettings(), func() time.Time { return now })

	a, err := store.create()
	require.NoError(t, err)
	b, err := store.create()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.Key, b.Key)
	assert.Equal(t, 2, store.len())

	now = now.Add(45 * time.Minute)
	_, ok := store.get(a.ID)
	require.True(t, ok, "get refreshes expiry")

	now = now.Add(30 * time.Minute)
	_, ok = store.get(b.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, store.len())

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, store.sweep())
	assert.Zero(t, store.len())
	assert.False(t, store.updateSettings(a.ID, config.DefaultSettings()))
}

func TestSessionKeyIsCopied(t *testing.T) {
	t.Parallel()
	store := newSessionStore(time.Hour, config.DefaultSettings(), nil)
	sess, err := store.create()
	require.NoError(t, err)
	sess.Key[0] ^= 0xff

	again, ok := store.get(sess.ID)
	require.True(t, ok)
	assert.NotEqual(t, sess.Key, again.Key)
}

func TestElementCache(t *testing.T) {
	t.Parallel()
	now := time.Unix(0, 0)
	c := newElementCache(func() time.Time { return now })

	c.Store("https://a.example/x.png", "image/png", []byte("png"))
	c.Store("https://a.example/empty.png", "image/png", nil)
	c.Store("https://a.example/huge.png", "image/png", make([]byte, elementCacheMaxBytes+1))

	data, mime, ok := c.Load("https://a.example/x.png")
	require.True(t, ok)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, []byte("png"), data)

	_, _, ok = c.Load("https://a.example/empty.png")
	assert.False(t, ok)
	_, _, ok = c.Load("https://a.example/huge.png")
	assert.False(t, ok)

	now = now.Add(elementCacheTTL + time.Second)
	_, _, ok = c.Load("https://a.example/x.png")
	assert.False(t, ok)
}

func TestElementKey(t *testing.T) {
	t.Parallel()
	target := "https://a.example/x.png"
	assert.NotEqual(t, elementKey("s1", target, "image/png"), elementKey("s2", target, "image/png"))
	assert.NotEqual(t, elementKey("s1", target, "image/png"), elementKey("s1", target, "text/css"))
	assert.Equal(t, elementKey("s1", target, ""), elementKey("s1", target, ""))
}

func TestElementType(t *testing.T) {
	t.Parallel()
	gif := &fetched{Body: emptyGIF, ContentType: "application/octet-stream"}
	css := &fetched{Body: []byte("body{}"), ContentType: "text/css"}

	assert.Equal(t, "image/gif", elementType("image/png", gif))
	assert.Equal(t, "image/gif", elementType("", gif))
	assert.Equal(t, "text/css", elementType("text/css", css))
	assert.Equal(t, "image/png", elementType("image/png", css))
}

func TestRouteOf(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "search", routeOf("/search"))
	assert.Equal(t, "imgres", routeOf("/imgres"))
	assert.Equal(t, "other", routeOf("/search/extra"))
}
