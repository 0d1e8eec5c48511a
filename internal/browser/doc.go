// Package browser owns the headless Chrome lifecycle used by the extractors:
// launching a stealth-configured instance, running the one-time consent flow,
// and handing out tabs that are always closed when the caller is done.
package browser
