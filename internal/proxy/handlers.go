package proxy

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"searchveil/internal/config"
	"searchveil/prefs"
	"searchveil/rewrite"
	"searchveil/shield"
)

const robotsTxt = "User-Agent: *\nDisallow: /\n"

var emptyGIF = mustDecodeBase64("R0lGODlhAQABAIAAAP///////yH5BAEKAAEALAAAAAABAAEAAAICTAEAOw==")

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html class="theme-{{.Theme}}">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="referrer" content="no-referrer">
<title>searchveil</title>
</head>
<body>
<form action="search" method="{{.Method}}">
<input type="text" name="q" autofocus autocomplete="off" aria-label="Search">
{{- if .Preferences}}
<input type="hidden" name="preferences" value="{{.Preferences}}">
{{- end}}
<input type="submit" value="Search">
</form>
{{- if .Error}}
<p class="error">{{.Error}}</p>
{{- end}}
<p><a href="config">Settings</a></p>
</body>
</html>
`))

type indexPage struct {
	Theme       string
	Method      string
	Preferences string
	Error       string
}

func mustDecodeBase64(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// session resolves the client session, setting the cookie for new ones.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (session, bool) {
	sess, created, err := s.sessions.ensure(r)
	if err != nil {
		s.logger.Error("create session", zap.Error(err))
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return session{}, false
	}
	if created {
		http.SetCookie(w, s.sessions.cookieFor(sess))
	}
	return sess, true
}

// settingsFor overlays preference parameters of the request on the session settings.
func (s *Server) settingsFor(sess session, r *http.Request) config.Settings {
	settings := sess.Settings
	if p := s.prefs.FromParams(r.URL.Query()); len(p) > 0 {
		settings = settings.WithPreferences(p)
	}
	return settings
}

// preferenceToken encodes the URL-safe settings, or returns "" on failure.
func (s *Server) preferenceToken(settings config.Settings) string {
	tok, err := s.prefs.Encode(settings.Preferences())
	if err != nil {
		s.logger.Debug("encode preferences", zap.Error(err))
		return ""
	}
	return tok
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	settings := s.settingsFor(sess, r)
	page := indexPage{
		Theme:  settings.Theme,
		Method: http.MethodPost,
	}
	if settings.GetOnly {
		page.Method = http.MethodGet
	}
	if r.URL.Query().Has(prefs.ParamName) {
		page.Preferences = s.preferenceToken(settings)
	}
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, page); err != nil {
		s.logger.Error("render index", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeHTML(w, http.StatusOK, buf.String())
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	codec := shield.NewCodec(sess.Key)

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		q := strings.TrimSpace(r.PostForm.Get("q"))
		if q == "" {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		tok, err := codec.Shield(q)
		if err != nil {
			s.logger.Error("shield query", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, searchPath(r.PostForm, tok), http.StatusFound)
		return
	}

	args := r.URL.Query()
	raw := strings.TrimSpace(args.Get("q"))
	if raw == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	res := codec.TryUnshield(raw)
	switch res.Outcome {
	case shield.Unshielded:
	case shield.NotShielded:
		tok, err := codec.Shield(raw)
		if err != nil {
			s.logger.Error("shield query", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, searchPath(args, tok), http.StatusFound)
		return
	default:
		// Usually a token from an expired session.
		s.logger.Debug("search token rejected", zap.Stringer("outcome", res.Outcome))
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	query, lucky := splitLucky(res.Plaintext)
	if strings.TrimSpace(query) == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	settings := s.settingsFor(sess, r)

	page, err := s.upstream.Search(r.Context(), query, args, settings)
	switch {
	case errors.Is(err, ErrCaptcha):
		s.logger.Warn("upstream captcha")
		s.renderError(w, http.StatusServiceUnavailable, settings,
			"The search provider is rate limiting this server. Try again later.")
		return
	case err != nil:
		s.logger.Warn("upstream search failed", zap.Error(err))
		s.renderError(w, http.StatusBadGateway, settings, "The search provider could not be reached.")
		return
	}

	ctx := rewrite.Context{
		RootURL:       publicRoot(r, s.cfg.App.RootURL),
		Query:         query,
		Mobile:        isMobile(r),
		Config:        settings.Rewrite(s.preferenceToken(settings)),
		ForwardParams: safeParams(args),
	}
	result, err := s.pipeline.Sanitize(string(page.Body), ctx, sess.Key)
	if err != nil {
		s.logger.Error("sanitize results", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.metrics.observeRewrite(result.Stats)

	if lucky {
		if root, err := html.Parse(strings.NewReader(result.HTML)); err == nil {
			if link, ok := rewrite.FirstLink(root); ok {
				s.metrics.lucky.Inc()
				http.Redirect(w, r, link, http.StatusSeeOther)
				return
			}
		}
	}
	writeHTML(w, http.StatusOK, result.HTML)
}

func (s *Server) handleElement(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	args := r.URL.Query()
	res := shield.TryUnshield(args.Get("url"), sess.Key)
	if !res.OK() {
		http.Error(w, "element token rejected", http.StatusUnauthorized)
		return
	}
	target, ok := parseTarget(res.Plaintext)
	if !ok {
		writeElement(w, emptyGIF, "image/gif")
		return
	}
	requested := args.Get("type")
	key := elementKey(sess.ID, target.String(), requested)
	if data, mime, ok := s.elements.Load(key); ok {
		writeElement(w, data, mime)
		return
	}

	page, err := s.upstream.Fetch(r.Context(), target.String())
	if (err != nil || page.Status != http.StatusOK || len(page.Body) == 0) && strings.Contains(target.Path, "favicon") {
		page, err = s.upstream.Fetch(r.Context(), target.Scheme+"://"+target.Host+"/favicon.ico")
	}
	if err != nil || page.Status != http.StatusOK || len(page.Body) == 0 {
		if err != nil {
			s.logger.Debug("element fetch failed", zap.Error(err))
		}
		writeElement(w, emptyGIF, "image/gif")
		return
	}
	mime := elementType(requested, page)
	s.elements.Store(key, mime, page.Body)
	writeElement(w, page.Body, mime)
}

// elementType picks the response type of a proxied element. Images are
// sniffed since pages link webp, svg and jpeg alike under one requested
// type; other types are served as requested so stylesheets and scripts are
// not rejected under nosniff.
func elementType(requested string, page *fetched) string {
	if requested == "" || strings.HasPrefix(requested, "image/") {
		detected := mimetype.Detect(page.Body)
		if requested == "" || strings.HasPrefix(detected.String(), "image/") {
			return detected.String()
		}
	}
	if requested == "" {
		return firstNonEmpty(page.ContentType, "application/octet-stream")
	}
	return requested
}

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	args := r.URL.Query()
	settings := s.settingsFor(sess, r)

	location := args.Get("location")
	switch res := shield.TryUnshield(location, sess.Key); res.Outcome {
	case shield.Unshielded:
		location = res.Plaintext
	case shield.NotShielded:
	default:
		s.renderError(w, http.StatusUnauthorized, settings, "This link has expired.")
		return
	}
	target, ok := parseTarget(location)
	if !ok {
		s.renderError(w, http.StatusBadRequest, settings, "Invalid location.")
		return
	}

	fetcher := pageFetcher(s.upstream)
	if s.browser != nil {
		fetcher = s.browser
	}
	page, err := fetcher.Fetch(r.Context(), target.String())
	if err != nil {
		s.logger.Warn("window fetch failed", zap.Error(err))
		s.renderError(w, http.StatusBadGateway, settings, "The page could not be loaded.")
		return
	}

	nojs := wantsNoJS(args, settings.NoJS)
	body := string(page.Body)
	if nojs {
		body = s.windowPolicy.Sanitize(body)
	}
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		s.logger.Warn("parse window page", zap.Error(err))
		s.renderError(w, http.StatusBadGateway, settings, "The page could not be read.")
		return
	}
	ctx := rewrite.Context{
		RootURL: publicRoot(r, s.cfg.App.RootURL),
		Mobile:  isMobile(r),
		Config:  settings.Rewrite(""),
	}
	stats := s.pipeline.RelinkWindow(root, page.URL, ctx, sess.Key, rewrite.WindowOptions{NoJS: nojs})
	s.metrics.observeRewrite(stats)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		s.logger.Error("render window page", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeHTML(w, http.StatusOK, buf.String())
}

// configResponse is the JSON view of a session's settings.
type configResponse struct {
	config.Settings
	Preferences string `json:"preferences"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		settings := sess.Settings
		if tok := r.URL.Query().Get(prefs.ParamName); tok != "" {
			if p := s.prefs.Decode(tok); len(p) > 0 {
				settings = settings.WithPreferences(p)
				s.sessions.updateSettings(sess.ID, settings)
			}
		}
		writeJSON(w, http.StatusOK, configResponse{Settings: settings, Preferences: s.preferenceToken(settings)})
	case http.MethodPost, http.MethodPut:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		settings := sess.Settings.FromForm(r.PostForm)
		if err := settings.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.sessions.updateSettings(sess.ID, settings)
		http.Redirect(w, r, "/", http.StatusFound)
	default:
		w.Header().Set("Allow", "GET, POST, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleImgres sends an image result click straight to the full image.
func (s *Server) handleImgres(w http.ResponseWriter, r *http.Request) {
	target, ok := parseTarget(r.URL.Query().Get("imgurl"))
	if !ok {
		http.Error(w, "invalid image url", http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, target.String(), http.StatusFound)
}

type openSearchURL struct {
	Type     string            `xml:"type,attr"`
	Method   string            `xml:"method,attr"`
	Template string            `xml:"template,attr"`
	Params   []openSearchParam `xml:"Param,omitempty"`
}

type openSearchParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type openSearchDescription struct {
	XMLName       xml.Name      `xml:"http://a9.com/-/spec/opensearch/1.1/ OpenSearchDescription"`
	ShortName     string        `xml:"ShortName"`
	Description   string        `xml:"Description"`
	InputEncoding string        `xml:"InputEncoding"`
	URL           openSearchURL `xml:"Url"`
}

// handleOpenSearch describes the proxy as a browser search engine, using the
// request method the client's settings allow.
func (s *Server) handleOpenSearch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	settings := s.settingsFor(sess, r)
	search := publicRoot(r, s.cfg.App.RootURL) + "/search"
	u := openSearchURL{Type: "text/html", Method: "post", Template: search}
	if settings.GetOnly {
		u.Method = "get"
		u.Template = search + "?q={searchTerms}"
	} else {
		u.Params = []openSearchParam{{Name: "q", Value: "{searchTerms}"}}
	}
	doc := openSearchDescription{
		ShortName:     "searchveil",
		Description:   "A privacy front end for web search",
		InputEncoding: "UTF-8",
		URL:           u,
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		s.logger.Error("render opensearch", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/opensearchdescription+xml")
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRobots(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(robotsTxt))
}

func (s *Server) renderError(w http.ResponseWriter, status int, settings config.Settings, msg string) {
	var buf bytes.Buffer
	err := indexTemplate.Execute(&buf, indexPage{Theme: settings.Theme, Method: http.MethodPost, Error: msg})
	if err != nil {
		http.Error(w, msg, status)
		return
	}
	writeHTML(w, status, buf.String())
}

func writeHTML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeElement(w http.ResponseWriter, data []byte, mime string) {
	h := w.Header()
	h.Set("Content-Type", mime)
	h.Set("Cache-Control", "max-age=86400")
	h.Set("Content-Security-Policy", "sandbox")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
