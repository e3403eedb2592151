// Package browser owns the headless Chrome session used for full
// listing parses. One session lives for the process lifetime; each
// render runs in its own tab.
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// Options tunes the Chrome session.
type Options struct {
	Headless    bool
	NavTimeout  time.Duration
	WaitTimeout time.Duration
	UserAgents  []string
}

// Chrome is a long-lived headless browser. Listing sites fingerprint
// automation, so the session masks the obvious tells: no
// AutomationControlled blink feature, per-render viewport variance and
// a human-ish scroll pass before extraction.
type Chrome struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	navTimeout    time.Duration
	waitTimeout   time.Duration
	log           *zap.Logger
}

// New starts the browser process. Startup failures surface here, not
// on the first render.
func New(ctx context.Context, log *zap.Logger, opts Options) (*Chrome, error) {
	if log == nil {
		log = zap.NewNop()
	}
	uas := opts.UserAgents
	if len(uas) == 0 {
		uas = defaultUserAgents
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 60 * time.Second
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 15 * time.Second
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(uas[rand.Intn(len(uas))]),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	log.Info("browser session started", zap.Bool("headless", opts.Headless))
	return &Chrome{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		navTimeout:    opts.NavTimeout,
		waitTimeout:   opts.WaitTimeout,
		log:           log.Named("browser"),
	}, nil
}

// Render navigates a fresh tab to the URL and returns the settled
// outer HTML plus the navigation status code.
func (c *Chrome) Render(ctx context.Context, rawURL string) (string, int, error) {
	tabCtx, cancelTab := chromedp.NewContext(c.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, c.navTimeout)
	defer cancelTimeout()

	// Tab contexts descend from the browser, not the caller; bridge
	// the caller's cancellation across.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			cancelTab()
		case <-stop:
		}
	}()

	width := int64(1200 + rand.Intn(560))
	height := int64(800 + rand.Intn(300))

	start := time.Now()
	resp, err := chromedp.RunResponse(tabCtx,
		chromedp.EmulateViewport(width, height),
		chromedp.Navigate(rawURL),
	)
	if err != nil {
		return "", 0, fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	status := 200
	if resp != nil {
		status = int(resp.Status)
	}

	var html string
	waitCtx, cancelWait := context.WithTimeout(tabCtx, c.waitTimeout)
	defer cancelWait()
	err = chromedp.Run(waitCtx,
		chromedp.Evaluate(`Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`, nil),
		chromedp.WaitReady("body", chromedp.ByQuery),
		humanScroll(),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", status, fmt.Errorf("extract %s: %w", rawURL, err)
	}

	c.log.Debug("rendered",
		zap.String("url", rawURL),
		zap.Int("status", status),
		zap.Int("bytes", len(html)),
		zap.Duration("took", time.Since(start)),
	)
	return html, status, nil
}

// Close tears down the session and the browser process.
func (c *Chrome) Close() {
	c.browserCancel()
	c.allocCancel()
}

// humanScroll nudges the page the way a reader would, which also
// triggers lazy-loaded galleries.
func humanScroll() chromedp.Tasks {
	var tasks chromedp.Tasks
	steps := 2 + rand.Intn(3)
	for i := 0; i < steps; i++ {
		tasks = append(tasks,
			chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", 400+rand.Intn(600)), nil),
			chromedp.Sleep(time.Duration(150+rand.Intn(350))*time.Millisecond),
		)
	}
	tasks = append(tasks,
		chromedp.Evaluate("window.scrollTo(0, 0)", nil),
		chromedp.Sleep(time.Duration(100+rand.Intn(200))*time.Millisecond),
	)
	return tasks
}
