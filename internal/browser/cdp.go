package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/maltedev/retail-scraper/internal/models"
)

// CDP drives a single Chrome tab over the DevTools protocol. It has no
// network-idle signal, so every wait mode ends once the body is ready.
type CDP struct {
	mu          sync.Mutex
	tab         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	timeout     time.Duration
	closed      bool
	logger      *zap.Logger
}

func NewCDP(ctx context.Context, opts *Options, logger *zap.Logger) (*CDP, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(opts.UserAgent),
		chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
	)
	if opts.ProxyServer != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.ProxyServer))
	}

	// The tab outlives the caller's context; only Close tears it down.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	setup := chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if h := opts.headers(); len(h) > 0 {
			headers := make(network.Headers, len(h))
			for k, v := range h {
				headers[k] = v
			}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		if opts.TimezoneID != "" {
			if err := emulation.SetTimezoneOverride(opts.TimezoneID).Do(ctx); err != nil {
				return fmt.Errorf("set timezone: %w", err)
			}
		}
		if opts.Locale != "" {
			locale := strings.ReplaceAll(opts.Locale, "-", "_")
			if err := emulation.SetLocaleOverride().WithLocale(locale).Do(ctx); err != nil {
				return fmt.Errorf("set locale: %w", err)
			}
		}
		return nil
	})

	if err := chromedp.Run(tab, setup); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	logger.Info("browser started", zap.String("engine", EngineChromedp), zap.Bool("headless", opts.Headless))

	return &CDP{
		tab:         tab,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		timeout:     opts.Timeout,
		logger:      logger.Named("browser"),
	}, nil
}

func (c *CDP) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// task derives a context on the tab bounded by timeout and cancelled with ctx.
func (c *CDP) task(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	tctx, cancel := context.WithTimeout(c.tab, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}, nil
}

func (c *CDP) Navigate(ctx context.Context, url string, opts NavigateOptions) (*Response, error) {
	tctx, cancel, err := c.task(ctx, opts.Timeout)
	if err != nil {
		return nil, err
	}
	defer cancel()

	c.logger.Debug("navigating", zap.String("url", url))

	resp, err := chromedp.RunResponse(tctx, chromedp.Navigate(url))
	if err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	var html, location string
	if err := chromedp.Run(tctx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("failed to get page content: %w", err)
	}

	out := &Response{URL: location, HTML: html}
	if resp != nil {
		out.StatusCode = int(resp.Status)
	}
	return out, nil
}

func (c *CDP) Click(ctx context.Context, selector string, timeout time.Duration) error {
	tctx, cancel, err := c.task(ctx, timeout)
	if err != nil {
		return err
	}
	defer cancel()
	return chromedp.Run(tctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (c *CDP) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	tctx, cancel, err := c.task(ctx, timeout)
	if err != nil {
		return err
	}
	defer cancel()
	return chromedp.Run(tctx,
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (c *CDP) Cookies(ctx context.Context) ([]models.Cookie, error) {
	tctx, cancel, err := c.task(ctx, 0)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var raw []*network.Cookie
	err = chromedp.Run(tctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	cookies := make([]models.Cookie, 0, len(raw))
	for _, rc := range raw {
		expires := rc.Expires
		if rc.Session {
			expires = -1
		}
		cookies = append(cookies, models.Cookie{
			Name:     rc.Name,
			Value:    rc.Value,
			Domain:   rc.Domain,
			Path:     rc.Path,
			Expires:  expires,
			HTTPOnly: rc.HTTPOnly,
			Secure:   rc.Secure,
			SameSite: rc.SameSite.String(),
		})
	}
	return cookies, nil
}

func (c *CDP) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	tctx, cancel, err := c.task(ctx, 0)
	if err != nil {
		return err
	}
	defer cancel()

	params := make([]*network.CookieParam, 0, len(cookies))
	for _, ck := range cookies {
		p := &network.CookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Secure:   ck.Secure,
			HTTPOnly: ck.HTTPOnly,
			SameSite: network.CookieSameSite(ck.SameSite),
		}
		if ck.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(0, int64(ck.Expires*float64(time.Second))))
			p.Expires = &exp
		}
		params = append(params, p)
	}

	err = chromedp.Run(tctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

func (c *CDP) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	err := chromedp.Cancel(c.tab)
	c.tabCancel()
	c.allocCancel()
	if err != nil {
		return fmt.Errorf("failed to close chrome: %w", err)
	}
	return nil
}
