// Package browsertest provides scriptable in-memory Page and Element fakes.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"callwatch/internal/browser"
)

// Page is an in-memory browser.Page. Selectors are matched literally against
// the Elements map.
type Page struct {
	URL      string
	TitleTxt string
	HTML     string
	Elements map[string][]*Element
	Jar      []browser.Cookie

	// Hooks let tests change the page in response to actions.
	OnNavigate func(p *Page, url string) error
	OnRefresh  func(p *Page) error
	OnEval     func(p *Page, js string) (string, error)

	Navigations []string
	Refreshes   int
	Evals       []string
	Typed       string
	Cleared     int
}

// NewPage returns an empty page at url.
func NewPage(url string) *Page {
	return &Page{URL: url, Elements: map[string][]*Element{}}
}

// Set replaces the elements matched by selector.
func (p *Page) Set(selector string, els ...*Element) *Page {
	if p.Elements == nil {
		p.Elements = map[string][]*Element{}
	}
	if len(els) == 0 {
		delete(p.Elements, selector)
		return p
	}
	p.Elements[selector] = els
	return p
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Navigations = append(p.Navigations, url)
	if p.OnNavigate != nil {
		return p.OnNavigate(p, url)
	}
	p.URL = url
	return nil
}

func (p *Page) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Refreshes++
	if p.OnRefresh != nil {
		return p.OnRefresh(p)
	}
	return nil
}

func (p *Page) CurrentURL(context.Context) (string, error) { return p.URL, nil }
func (p *Page) Title(context.Context) (string, error)      { return p.TitleTxt, nil }
func (p *Page) Source(context.Context) (string, error)     { return p.HTML, nil }

func (p *Page) FindElements(_ context.Context, selector string) ([]browser.Element, error) {
	return toElements(p.Elements[selector]), nil
}

func (p *Page) WaitElement(ctx context.Context, selector string, _ time.Duration) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	els := p.Elements[selector]
	if len(els) == 0 {
		return nil, fmt.Errorf("%s: %w", selector, browser.ErrNotFound)
	}
	return els[0], nil
}

func (p *Page) Eval(_ context.Context, js string) (string, error) {
	p.Evals = append(p.Evals, js)
	if p.OnEval != nil {
		return p.OnEval(p, js)
	}
	return "", nil
}

func (p *Page) Cookies(context.Context) ([]browser.Cookie, error) {
	return append([]browser.Cookie(nil), p.Jar...), nil
}

func (p *Page) SetCookies(_ context.Context, cookies []browser.Cookie) error {
	p.Jar = append(p.Jar, cookies...)
	return nil
}

func (p *Page) ClearCookies(context.Context) error {
	p.Cleared++
	p.Jar = nil
	return nil
}

func (p *Page) InsertText(_ context.Context, text string) error {
	p.Typed += text
	return nil
}

// Element is an in-memory browser.Element.
type Element struct {
	TextValue string
	Attrs     map[string]string
	Children  map[string][]*Element
	FramePage *Page
	Stale     bool
	OnClick   func() error

	Clicks      int
	HoverClicks int
	Focused     int
}

func toElements(els []*Element) []browser.Element {
	out := make([]browser.Element, 0, len(els))
	for _, el := range els {
		out = append(out, el)
	}
	return out
}

// Row builds a table row element with an id attribute and td cells.
func Row(id string, cells ...string) *Element {
	tds := make([]*Element, 0, len(cells))
	for _, c := range cells {
		tds = append(tds, &Element{TextValue: c})
	}
	return &Element{
		Attrs:    map[string]string{"id": id},
		Children: map[string][]*Element{"td": tds},
	}
}

func (e *Element) stale() error {
	if e.Stale {
		return browser.ErrStaleElement
	}
	return nil
}

func (e *Element) Text(context.Context) (string, error) {
	if err := e.stale(); err != nil {
		return "", err
	}
	return e.TextValue, nil
}

func (e *Element) Attribute(_ context.Context, name string) (string, bool, error) {
	if err := e.stale(); err != nil {
		return "", false, err
	}
	v, ok := e.Attrs[name]
	return v, ok, nil
}

func (e *Element) FindElements(_ context.Context, selector string) ([]browser.Element, error) {
	if err := e.stale(); err != nil {
		return nil, err
	}
	return toElements(e.Children[selector]), nil
}

func (e *Element) Click(context.Context) error {
	if err := e.stale(); err != nil {
		return err
	}
	e.Clicks++
	if e.OnClick != nil {
		return e.OnClick()
	}
	return nil
}

func (e *Element) HoverClick(ctx context.Context) error {
	e.HoverClicks++
	return e.Click(ctx)
}

func (e *Element) Focus(context.Context) error {
	if err := e.stale(); err != nil {
		return err
	}
	e.Focused++
	return nil
}

func (e *Element) Frame(context.Context) (browser.Page, error) {
	if e.FramePage == nil {
		return nil, fmt.Errorf("not an iframe: %w", browser.ErrNotFound)
	}
	return e.FramePage, nil
}

// HasNavigated reports whether url (or a prefix of it) was navigated to.
func (p *Page) HasNavigated(prefix string) bool {
	for _, n := range p.Navigations {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}
