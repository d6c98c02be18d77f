package proxy

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"searchveil/internal/config"
	"searchveil/prefs"
	"searchveil/shield"
)

const resultsPage = `<html><head><title>cats</title></head><body><div id="main">` +
	`<div class="Gx5Zad"><span>Ad</span><a href="/url?q=https://ads.example/">Buy</a></div>` +
	`<div class="Gx5Zad"><a href="/url?q=https://good.example/&amp;sa=U"><h3>Cats</h3></a></div>` +
	`</div></body></html>`

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

// reroute sends every upstream request to the fake and remembers the host
// the proxy asked for.
type reroute struct{ target *url.URL }

func (rt reroute) RoundTrip(r *http.Request) (*http.Response, error) {
	out := r.Clone(r.Context())
	out.Header.Set("X-Original-Host", r.URL.Host)
	out.URL.Scheme = rt.target.Scheme
	out.URL.Host = rt.target.Host
	out.Host = rt.target.Host
	resp, err := http.DefaultTransport.RoundTrip(out)
	if resp != nil {
		resp.Request = r
	}
	return resp, err
}

type seenRequest struct {
	host    string
	path    string
	query   url.Values
	header  http.Header
	cookies []*http.Cookie
}

type fakeUpstream struct {
	mu   sync.Mutex
	seen []seenRequest
}

func (f *fakeUpstream) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, seenRequest{
		host:    r.Header.Get("X-Original-Host"),
		path:    r.URL.Path,
		query:   r.URL.Query(),
		header:  r.Header.Clone(),
		cookies: r.Cookies(),
	})
}

func (f *fakeUpstream) last(t *testing.T) seenRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.seen)
	return f.seen[len(f.seen)-1]
}

func (f *fakeUpstream) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func newTestServer(t *testing.T, h http.HandlerFunc, mutate ...func(*config.Config)) (*Server, *fakeUpstream) {
	t.Helper()
	fake := &fakeUpstream{}
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		h(w, r)
	}))
	t.Cleanup(up.Close)
	target, err := url.Parse(up.URL)
	require.NoError(t, err)

	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}
	s, err := New(Config{App: cfg})
	require.NoError(t, err)
	s.upstream.client.SetTransport(reroute{target: target})
	t.Cleanup(s.Close)
	return s, fake
}

// client carries the session cookie between requests.
type client struct {
	t       *testing.T
	s       *Server
	cookies []*http.Cookie
}

func (c *client) do(req *http.Request) *httptest.ResponseRecorder {
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	c.s.ServeHTTP(rec, req)
	if cs := rec.Result().Cookies(); len(cs) > 0 {
		c.cookies = cs
	}
	return rec
}

func (c *client) get(target string) *httptest.ResponseRecorder {
	return c.do(httptest.NewRequest(http.MethodGet, target, nil))
}

func (c *client) postForm(target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *client) key() []byte {
	c.t.Helper()
	require.NotEmpty(c.t, c.cookies, "no session cookie")
	sess, ok := c.s.sessions.get(c.cookies[0].Value)
	require.True(c.t, ok)
	return sess.Key
}

func (c *client) shield(plain string) string {
	c.t.Helper()
	tok, err := shield.Shield(plain, c.key())
	require.NoError(c.t, err)
	return tok
}

func location(t *testing.T, rec *httptest.ResponseRecorder) *url.URL {
	t.Helper()
	u, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return u
}

func serveResults(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(resultsPage))
}

func TestSearchPostRedirectsToShieldedGet(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, serveResults)
	c := &client{t: t, s: s}

	rec := c.postForm("/search", url.Values{"q": {"golang"}, "tbm": {"nws"}})
	require.Equal(t, http.StatusFound, rec.Code)
	loc := location(t, rec)
	assert.Equal(t, "/search", loc.Path)
	assert.Equal(t, "nws", loc.Query().Get("tbm"))

	plain, err := shield.Unshield(loc.Query().Get("q"), c.key())
	require.NoError(t, err)
	assert.Equal(t, "golang", plain)
}

func TestSearchShieldsPlainQuery(t *testing.T) {
	t.Parallel()
	s, fake := newTestServer(t, serveResults)
	c := &client{t: t, s: s}

	rec := c.get("/search?q=cats&tbm=isch")
	require.Equal(t, http.StatusFound, rec.Code)
	loc := location(t, rec)
	assert.True(t, shield.IsShielded(loc.Query().Get("q")))
	assert.Equal(t, "isch", loc.Query().Get("tbm"))
	assert.Zero(t, fake.count(), "plain query must not reach upstream")
}

func TestSearchRendersSanitizedResults(t *testing.T) {
	t.Parallel()
	s, fake := newTestServer(t, serveResults)
	c := &client{t: t, s: s}

	rec := c.get("/search?q=cats")
	require.Equal(t, http.StatusFound, rec.Code)
	rec = c.get(location(t, rec).String())
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `href="https://good.example/"`)
	assert.NotContains(t, body, "ads.example")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	up := fake.last(t)
	assert.Equal(t, "www.google.com", up.host)
	assert.Equal(t, "/search", up.path)
	assert.Equal(t, "cats", up.query.Get("q"))
	assert.Equal(t, "1", up.query.Get("gbv"))
	assert.Equal(t, resultsAll, up.query.Get("num"))
	assert.Equal(t, "off", up.query.Get("safe"))
	assert.Equal(t, config.DefaultUserAgent, up.header.Get("User-Agent"))

	names := map[string]string{}
	for _, ck := range up.cookies {
		names[ck.Name] = ck.Value
	}
	assert.Equal(t, "PENDING+987", names["CONSENT"])
	assert.NotContains(t, names, sessionCookieName)
}

func TestSearchUsesSessionSettings(t *testing.T) {
	t.Parallel()
	s, fake := newTestServer(t, serveResults)
	c := &client{t: t, s: s}

	rec := c.postForm("/config", url.Values{
		"theme": {"dark"}, "safe": {"on"}, "block": {"spam.example"}, "lang_interface": {"lang_de"},
	})
	require.Equal(t, http.StatusFound, rec.Code)

	rec = c.get("/search?q=" + url.QueryEscape(c.shield("cats")) + "&tbm=nws")
	require.Equal(t, http.StatusOK, rec.Code)

	up := fake.last(t)
	assert.Equal(t, "cats -site:spam.example", up.query.Get("q"))
	assert.Equal(t, "active", up.query.Get("safe"))
	assert.Equal(t, "de", up.query.Get("hl"))
	assert.Equal(t, resultsOther, up.query.Get("num"))
	assert.Equal(t, "de;q=1.0", up.header.Get("Accept-Language"))
}

func TestSearchLucky(t *testing.T) {
	t.Parallel()
	s, fake := newTestServer(t, serveResults)
	c := &client{t: t, s: s}
	c.get("/")

	rec := c.get("/search?q=" + url.QueryEscape(c.shield("cats !")))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "https://good.example/", rec.Header().Get("Location"))
	assert.Equal(t, "cats", fake.last(t).query.Get("q"))
}

func TestSearchCaptcha(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><form id="captcha-form"></form></body></html>`))
	})
	c := &client{t: t, s: s}
	c.get("/")

	rec := c.get("/search?q=" + url.QueryEscape(c.shield("cats")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limiting")
}

func TestSearchRejectsForeignToken(t *testing.T) {
	t.Parallel()
	s, fake := newTestServer(t, serveResults)
	c := &client{t: t, s: s}
	c.get("/")

	foreign, err := shield.Shield("cats", []byte("another session key of 32 bytes"))
	require.NoError(t, err)
	rec := c.get("/search?q=" + url.QueryEscape(foreign))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Zero(t, fake.count())
}

func TestElement(t *testing.T) {
	t.Parallel()
	s, fake := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/x.png":
			_, _ = w.Write(pngBytes)
		case "/s.css":
			_, _ = w.Write([]byte("body{color:red}"))
		default:
			http.NotFound(w, r)
		}
	})
	c := &client{t: t, s: s}
	c.get("/")

	rec := c.get("/element?url=https://img.example/x.png&type=image/png")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = c.get("/element?url=" + url.QueryEscape(c.shield("https://img.example/x.png")) + "&type=image%2Fpng")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, pngBytes, rec.Body.Bytes())
	assert.Equal(t, "max-age=86400", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "img.example", fake.last(t).host)

	rec = c.get("/element?url=" + url.QueryEscape(c.shield("https://img.example/s.css")) + "&type=text%2Fcss")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/css", rec.Header().Get("Content-Type"))

	rec = c.get("/element?url=" + url.QueryEscape(c.shield("https://img.example/missing.png")) + "&type=image%2Fpng")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, emptyGIF, rec.Body.Bytes())

	seen := fake.count()
	rec = c.get("/element?url=" + url.QueryEscape(c.shield("javascript:alert(1)")) + "&type=image%2Fpng")
	assert.Equal(t, emptyGIF, rec.Body.Bytes())
	assert.Equal(t, seen, fake.count())
}

func TestElementCached(t *testing.T) {
	t.Parallel()
	s, fake := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pngBytes)
	})
	c := &client{t: t, s: s}
	c.get("/")

	for i := 0; i < 3; i++ {
		rec := c.get("/element?url=" + url.QueryEscape(c.shield("https://img.example/x.png")) + "&type=image%2Fpng")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1, fake.count())
}

func TestWindow(t *testing.T) {
	t.Parallel()
	s, fake := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head><script src="/app.js"></script></head>` +
			`<body><p>Hello</p><a href="/next">next</a><img src="/i.png"><iframe src="https://track.example"></iframe></body></html>`))
	})
	c := &client{t: t, s: s}
	c.get("/")

	rec := c.get("/window?location=" + url.QueryEscape(c.shield("https://site.example/page")) + "&nojs=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "site.example", fake.last(t).host)

	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Find("script").Length())
	assert.Equal(t, 0, doc.Find("iframe").Length())
	assert.Contains(t, doc.Text(), "Hello")

	href := doc.Find("a").AttrOr("href", "")
	assert.True(t, strings.HasPrefix(href, "http://example.com/window?location="+shield.Prefix), href)
	assert.True(t, strings.HasSuffix(href, "&nojs=1"), href)
	u, err := url.Parse(href)
	require.NoError(t, err)
	next, err := shield.Unshield(u.Query().Get("location"), c.key())
	require.NoError(t, err)
	assert.Equal(t, "https://site.example/next", next)

	src := doc.Find("img").AttrOr("src", "")
	assert.True(t, strings.HasPrefix(src, "http://example.com/element?url="), src)
}

func TestWindowRejectsInvalidLocation(t *testing.T) {
	t.Parallel()
	s, fake := newTestServer(t, serveResults)
	c := &client{t: t, s: s}

	rec := c.get("/window?location=" + url.QueryEscape("ftp://files.example/x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	foreign, err := shield.Shield("https://site.example/", []byte("another session key of 32 bytes"))
	require.NoError(t, err)
	rec = c.get("/window?location=" + url.QueryEscape(foreign))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, fake.count())
}

func TestConfig(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, serveResults)
	c := &client{t: t, s: s}

	read := func() map[string]any {
		t.Helper()
		rec := c.get("/config")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var out map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	got := read()
	assert.Equal(t, "system", got["theme"])
	assert.Equal(t, false, got["safe"])
	assert.True(t, strings.HasPrefix(got["preferences"].(string), string(prefs.ModeCompressed)))

	rec := c.postForm("/config", url.Values{"theme": {"dark"}, "safe": {"on"}, "nojs": {"on"}})
	require.Equal(t, http.StatusFound, rec.Code)
	got = read()
	assert.Equal(t, "dark", got["theme"])
	assert.Equal(t, true, got["safe"])
	assert.Equal(t, true, got["nojs"])

	rec = c.postForm("/config", url.Values{"time_period": {"z"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "dark", read()["theme"])
}

func TestConfigRestoresPreferences(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, serveResults)
	c := &client{t: t, s: s}

	tok, err := prefs.NewCodec("", false).Encode(prefs.Settings{"theme": "light", "new_tab": true})
	require.NoError(t, err)
	rec := c.get("/config?preferences=" + url.QueryEscape(tok))
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(c.get("/config").Body.Bytes(), &got))
	assert.Equal(t, "light", got["theme"])
	assert.Equal(t, true, got["new_tab"])
}

func TestEncryptedPreferences(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, serveResults, func(cfg *config.Config) {
		cfg.PreferencesKey = "server preference key"
		cfg.PreferencesEncrypted = true
	})
	c := &client{t: t, s: s}

	var got map[string]any
	require.NoError(t, json.Unmarshal(c.get("/config").Body.Bytes(), &got))
	tok := got["preferences"].(string)
	require.True(t, strings.HasPrefix(tok, string(prefs.ModeEncrypted)+shield.Prefix), tok)
	assert.Equal(t, "system", prefs.NewCodec("server preference key", true).Decode(tok)["theme"])
}

func TestIndex(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, serveResults, func(cfg *config.Config) {
		cfg.Defaults.GetOnly = true
		cfg.Defaults.Theme = "dark"
	})
	c := &client{t: t, s: s}

	rec := c.get("/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, c.cookies, 1)
	assert.Equal(t, sessionCookieName, c.cookies[0].Name)
	assert.True(t, c.cookies[0].HttpOnly)
	assert.Contains(t, rec.Body.String(), `method="GET"`)
	assert.Contains(t, rec.Body.String(), `class="theme-dark"`)

	rec = c.get("/nope")
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestRobotsHealthAndMetrics(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, serveResults)
	c := &client{t: t, s: s}

	rec := c.get("/robots.txt")
	assert.Equal(t, robotsTxt, rec.Body.String())

	rec = c.get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, c.cookies)

	rec = c.get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `searchveil_http_requests_total{route="healthz",status="200"} 1`)
	assert.Contains(t, rec.Body.String(), "searchveil_sessions_active 0")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.UpstreamURL = ""
	_, err := New(Config{App: cfg})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestElementCacheIsPerSession(t *testing.T) {
	t.Parallel()
	s, fake := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pngBytes)
	})

	for i := 0; i < 2; i++ {
		c := &client{t: t, s: s}
		c.get("/")
		for j := 0; j < 2; j++ {
			rec := c.get("/element?url=" + url.QueryEscape(c.shield("https://img.example/x.png")) + "&type=image%2Fpng")
			require.Equal(t, http.StatusOK, rec.Code)
		}
	}
	assert.Equal(t, 2, fake.count())
}

func TestImgres(t *testing.T) {
	t.Parallel()
	s, fake := newTestServer(t, serveResults)
	c := &client{t: t, s: s}

	rec := c.get("/imgres?imgurl=" + url.QueryEscape("https://x.example/a.png") + "&imgrefurl=https://x.example/")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://x.example/a.png", rec.Header().Get("Location"))

	for _, bad := range []string{"", "javascript:alert(1)", "http://127.0.0.1/a.png"} {
		rec = c.get("/imgres?imgurl=" + url.QueryEscape(bad))
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
	assert.Zero(t, fake.count())
}

func TestOpenSearch(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, serveResults, func(cfg *config.Config) {
		cfg.RootURL = "https://veil.example"
	})
	c := &client{t: t, s: s}

	rec := c.get("/opensearch.xml")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/opensearchdescription+xml", rec.Header().Get("Content-Type"))

	var doc openSearchDescription
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "searchveil", doc.ShortName)
	assert.Equal(t, "post", doc.URL.Method)
	assert.Equal(t, "https://veil.example/search", doc.URL.Template)
	assert.Equal(t, []openSearchParam{{Name: "q", Value: "{searchTerms}"}}, doc.URL.Params)

	rec = c.postForm("/config", url.Values{"get_only": {"on"}})
	require.Equal(t, http.StatusFound, rec.Code)
	rec = c.get("/opensearch.xml")
	var getDoc openSearchDescription
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &getDoc))
	assert.Equal(t, "get", getDoc.URL.Method)
	assert.Equal(t, "https://veil.example/search?q={searchTerms}", getDoc.URL.Template)
	assert.Empty(t, getDoc.URL.Params)
}

func TestUpstreamRedirects(t *testing.T) {
	t.Parallel()
	s, fake := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/internal":
			http.Redirect(w, r, "http://127.0.0.1:1/admin", http.StatusFound)
		case "/hop":
			http.Redirect(w, r, "https://other.example/ok", http.StatusFound)
		default:
			_, _ = w.Write([]byte("fine"))
		}
	})

	_, err := s.upstream.Fetch(context.Background(), "https://site.example/internal")
	assert.ErrorIs(t, err, ErrRedirectRefused)
	assert.Equal(t, 1, fake.count())

	page, err := s.upstream.Fetch(context.Background(), "https://site.example/hop")
	require.NoError(t, err)
	assert.Equal(t, "https://other.example/ok", page.URL)
	assert.Equal(t, "fine", string(page.Body))
	assert.Equal(t, "other.example", fake.last(t).host)
}

func TestUpstreamBodyLimit(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}, func(cfg *config.Config) {
		cfg.MaxBodyBytes = 1024
	})

	_, err := s.upstream.Fetch(context.Background(), "https://site.example/big")
	assert.ErrorIs(t, err, ErrTooLarge)
}
