package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"searchveil/internal/config"
)

var (
	// ErrCaptcha reports that the upstream answered with a bot check.
	ErrCaptcha = errors.New("upstream: captcha")
	// ErrTooLarge reports a response body above the configured limit.
	ErrTooLarge = errors.New("upstream: response too large")
	// ErrRedirectRefused reports a redirect to a host that is not a public domain.
	ErrRedirectRefused = errors.New("upstream: redirect refused")
)

const (
	resultsAll   = "15"
	resultsOther = "100"
	maxRedirects = 10
)

// consentCookies skip the upstream consent interstitial.
var consentCookies = []*http.Cookie{
	{Name: "CONSENT", Value: "PENDING+987"},
	{Name: "SOCS", Value: "CAESHAgBEhIaAB"},
}

var captchaMarkers = [][]byte{
	[]byte(`div class="g-recaptcha"`),
	[]byte(`form id="captcha-form"`),
}

// fetched is an upstream response reduced to what the handlers need.
type fetched struct {
	Body        []byte
	ContentType string
	Status      int
	// URL is the final location after redirects.
	URL string
}

// pageFetcher loads a third-party page for the anonymous view.
type pageFetcher interface {
	Fetch(ctx context.Context, target string) (*fetched, error)
}

type upstream struct {
	client    *resty.Client
	searchURL string
	maxBody   int64
	logger    *zap.Logger
	metrics   *metrics
}

func newUpstream(cfg *config.Config, logger *zap.Logger, m *metrics) *upstream {
	client := resty.New().
		SetTimeout(cfg.UpstreamTimeout).
		SetRetryCount(0).
		SetRedirectPolicy(redirectPolicy(maxRedirects)).
		SetHeader("User-Agent", cfg.UserAgent)
	if cfg.MaxBodyBytes > 0 {
		client.SetResponseBodyLimit(int(cfg.MaxBodyBytes))
	}
	return &upstream{
		client:    client,
		searchURL: cfg.UpstreamURL,
		maxBody:   cfg.MaxBodyBytes,
		logger:    logger,
		metrics:   m,
	}
}

// Search runs query upstream and returns the raw result page.
func (u *upstream) Search(ctx context.Context, query string, args url.Values, s config.Settings) (*fetched, error) {
	num := resultsOther
	if !args.Has("tbm") {
		num = resultsAll
	}
	target := u.searchURL + "?gbv=1&num=" + num + "&q=" + buildQuery(query, args, s)

	req := u.client.R().SetContext(ctx).SetCookies(consentCookies)
	if lang := strings.TrimPrefix(s.LangInterface, "lang_"); lang != "" {
		req.SetHeader("Accept-Language", lang+";q=1.0")
	}
	res, err := u.do(req, target, "search")
	if err != nil {
		return nil, err
	}
	if hasCaptcha(res.Body) {
		u.metrics.observeUpstream("search", "captcha")
		return res, ErrCaptcha
	}
	return res, nil
}

// Fetch loads target without upstream cookies.
func (u *upstream) Fetch(ctx context.Context, target string) (*fetched, error) {
	return u.do(u.client.R().SetContext(ctx), target, "fetch")
}

func (u *upstream) do(req *resty.Request, target, kind string) (*fetched, error) {
	resp, err := req.Get(target)
	if errors.Is(err, resty.ErrResponseBodyTooLarge) {
		u.metrics.observeUpstream(kind, "too_large")
		return nil, fmt.Errorf("%s %s: %w", kind, redactQuery(target), ErrTooLarge)
	}
	if err != nil {
		u.metrics.observeUpstream(kind, "error")
		return nil, fmt.Errorf("%s %s: %w", kind, redactQuery(target), err)
	}
	body := resp.Body()
	if u.maxBody > 0 && int64(len(body)) > u.maxBody {
		u.metrics.observeUpstream(kind, "too_large")
		return nil, fmt.Errorf("%s %s: %w", kind, redactQuery(target), ErrTooLarge)
	}
	final := target
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		final = raw.Request.URL.String()
	}
	u.metrics.observeUpstream(kind, statusClass(resp.StatusCode()))
	u.logger.Debug("upstream response",
		zap.String("kind", kind),
		zap.Int("status", resp.StatusCode()),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", resp.Time()))
	return &fetched{
		Body:        body,
		ContentType: resp.Header().Get("Content-Type"),
		Status:      resp.StatusCode(),
		URL:         final,
	}, nil
}

// redirectPolicy follows at most limit redirects and re-validates every hop
// the way the first target was validated.
func redirectPolicy(limit int) resty.RedirectPolicy {
	return resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
		if len(via) >= limit {
			return fmt.Errorf("stopped after %d redirects", limit)
		}
		if _, ok := parseTarget(req.URL.String()); !ok {
			return fmt.Errorf("%w: %s", ErrRedirectRefused, req.URL.Hostname())
		}
		return nil
	})
}

func hasCaptcha(body []byte) bool {
	for _, m := range captchaMarkers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// redactQuery drops the query string so search terms never reach the logs.
func redactQuery(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i]
	}
	return target
}
