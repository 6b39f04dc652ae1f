// Package browser exposes the small slice of browser automation the monitor
// needs: navigation, element queries, script evaluation and cookies.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStaleElement means the node was detached between lookup and use.
	ErrStaleElement = errors.New("stale element")
	// ErrNotFound means a bounded wait for a selector expired.
	ErrNotFound = errors.New("element not found")
)

// Cookie is the driver-neutral cookie shape.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  int64
	HTTPOnly bool
	Secure   bool
	SameSite string
}

// Page is the capability the control loop drives. Implementations are not
// safe for concurrent use.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Refresh(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Source(ctx context.Context) (string, error)
	// FindElements returns the elements currently matching selector without waiting.
	FindElements(ctx context.Context, selector string) ([]Element, error)
	// WaitElement waits up to timeout for selector to appear; ErrNotFound otherwise.
	WaitElement(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	// Eval runs a JS function expression and returns its result as a string.
	Eval(ctx context.Context, js string) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	ClearCookies(ctx context.Context) error
	// InsertText types into the focused element.
	InsertText(ctx context.Context, text string) error
}

// Element is a handle to a DOM node.
type Element interface {
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, bool, error)
	FindElements(ctx context.Context, selector string) ([]Element, error)
	Click(ctx context.Context) error
	// HoverClick moves the pointer along a path to a random point inside the
	// element before clicking.
	HoverClick(ctx context.Context) error
	Focus(ctx context.Context) error
	// Frame returns the document of an iframe element.
	Frame(ctx context.Context) (Page, error)
}

// FirstMatch returns the first element matching any of selectors, in order.
func FirstMatch(ctx context.Context, root interface {
	FindElements(context.Context, string) ([]Element, error)
}, selectors []string) (Element, string, bool) {
	for _, sel := range selectors {
		els, err := root.FindElements(ctx, sel)
		if err != nil || len(els) == 0 {
			continue
		}
		return els[0], sel, true
	}
	return nil, "", false
}

// AnyMatch reports whether any selector matches at least one element.
func AnyMatch(ctx context.Context, page Page, selectors []string) bool {
	_, _, ok := FirstMatch(ctx, page, selectors)
	return ok
}
