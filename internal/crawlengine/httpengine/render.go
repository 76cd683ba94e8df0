package httpengine

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
)

// renderPage navigates browserCtx to rawURL, waits for the page to settle,
// and returns the rendered document's outer HTML.
func renderPage(browserCtx context.Context, rawURL string, wait time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(browserCtx, 60*time.Second)
	defer cancel()

	var html string
	tasks := chromedp.Tasks{
		chromedp.Navigate(rawURL),
	}
	if wait > 0 {
		tasks = append(tasks, chromedp.Sleep(wait))
	}
	tasks = append(tasks, chromedp.OuterHTML("html", &html))

	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", err
	}
	return html, nil
}
