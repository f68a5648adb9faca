// Package session manages remote browser sessions used to load Ad Library
// search pages. ChromeSession drives Chrome through chromedp and
// PlaywrightSession drives Chromium through playwright-go; both satisfy
// crawler.Session. Pool hands sessions out to one run at a time.
package session
