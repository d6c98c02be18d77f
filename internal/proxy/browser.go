package proxy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// browser renders anonymous-view pages in headless Chrome so script-built
// markup survives. One allocator is shared and each fetch gets its own tab.
type browser struct {
	allocator context.Context
	cancel    context.CancelFunc
	userAgent string
	timeout   time.Duration
	maxBody   int64
	logger    *zap.Logger
}

func newBrowser(userAgent string, timeout time.Duration, maxBody int64, logger *zap.Logger) *browser {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-client-side-phishing-detection", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("incognito", true),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &browser{
		allocator: allocCtx,
		cancel:    cancel,
		userAgent: userAgent,
		timeout:   timeout,
		maxBody:   maxBody,
		logger:    logger,
	}
}

func (b *browser) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}

// Fetch navigates to target and returns the rendered document.
func (b *browser) Fetch(ctx context.Context, target string) (*fetched, error) {
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("browser fetch: empty target url")
	}
	taskCtx, cancelTab := chromedp.NewContext(b.allocator)
	defer cancelTab()

	// The tab outlives ctx otherwise.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, b.timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		mainID   network.RequestID
		status   int
		finalURL string
		document string
	)
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			if e.Type == network.ResourceTypeDocument {
				mu.Lock()
				mainID = e.RequestID
				mu.Unlock()
			}
		case *network.EventResponseReceived:
			mu.Lock()
			if e.RequestID == mainID && e.Response != nil {
				status = int(e.Response.Status)
			}
			mu.Unlock()
		}
	})

	actions := []chromedp.Action{network.Enable()}
	if b.userAgent != "" {
		ua := b.userAgent
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(ua).Do(ctx)
		}))
	}
	actions = append(actions,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &document, chromedp.ByQuery),
	)
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("browser fetch %s: %w", redactQuery(target), err)
	}
	if b.maxBody > 0 && int64(len(document)) > b.maxBody {
		return nil, fmt.Errorf("browser fetch %s: %w", redactQuery(target), ErrTooLarge)
	}

	mu.Lock()
	code := status
	mu.Unlock()
	if code == 0 {
		code = 200
	}
	if finalURL == "" {
		finalURL = target
	}
	b.logger.Debug("browser rendered page", zap.Int("status", code), zap.Int("bytes", len(document)))
	return &fetched{
		Body:        []byte(document),
		ContentType: "text/html; charset=utf-8",
		Status:      code,
		URL:         finalURL,
	}, nil
}
