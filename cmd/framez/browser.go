package main

import (
	"io"

	"github.com/pkg/browser"
)

// openBrowser asks the desktop to open url. Failure is not fatal: the URL
// has already been printed.
func openBrowser(url string) error {
	// xdg-open and friends chatter on stdout, which belongs to the UI.
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	return browser.OpenURL(url)
}
