package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"
)

// RodPage adapts a *rod.Page to Page.
type RodPage struct {
	page       *rod.Page
	navTimeout time.Duration
}

// NewRodPage wraps page. navTimeout bounds navigation and reloads.
func NewRodPage(page *rod.Page, navTimeout time.Duration) *RodPage {
	if navTimeout <= 0 {
		navTimeout = 60 * time.Second
	}
	return &RodPage{page: page, navTimeout: navTimeout}
}

func (p *RodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx).Timeout(p.navTimeout)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return pg.WaitLoad()
}

func (p *RodPage) Refresh(ctx context.Context) error {
	pg := p.page.Context(ctx).Timeout(p.navTimeout)
	if err := pg.Reload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return pg.WaitLoad()
}

func (p *RodPage) CurrentURL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *RodPage) Title(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (p *RodPage) Source(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *RodPage) FindElements(ctx context.Context, selector string) ([]Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapElements(els), nil
}

func (p *RodPage) WaitElement(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	el, err := p.page.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", selector, ErrNotFound)
		}
		return nil, mapErr(err)
	}
	return &rodElement{el: el}, nil
}

func (p *RodPage) Eval(ctx context.Context, js string) (string, error) {
	res, err := p.page.Context(ctx).Eval(js)
	if err != nil {
		return "", err
	}
	if res == nil || res.Value.Nil() {
		return "", nil
	}
	return res.Value.Str(), nil
}

func (p *RodPage) Cookies(ctx context.Context) ([]Cookie, error) {
	raw, err := p.page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, err
	}
	out := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  int64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: strings.ToLower(string(c.SameSite)),
		})
	}
	return out, nil
}

func (p *RodPage) SetCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			param.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		switch c.SameSite {
		case "lax":
			param.SameSite = proto.NetworkCookieSameSiteLax
		case "strict":
			param.SameSite = proto.NetworkCookieSameSiteStrict
		case "none":
			param.SameSite = proto.NetworkCookieSameSiteNone
		}
		params = append(params, param)
	}
	if len(params) == 0 {
		return nil
	}
	return p.page.Context(ctx).SetCookies(params)
}

func (p *RodPage) ClearCookies(ctx context.Context) error {
	return proto.NetworkClearBrowserCookies{}.Call(p.page.Context(ctx))
}

func (p *RodPage) InsertText(ctx context.Context, text string) error {
	return p.page.Context(ctx).InsertText(text)
}

type rodElement struct {
	el *rod.Element
}

func wrapElements(els rod.Elements) []Element {
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	s, err := e.el.Context(ctx).Text()
	return s, mapErr(err)
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, mapErr(err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) FindElements(ctx context.Context, selector string) ([]Element, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapElements(els), nil
}

func (e *rodElement) Click(ctx context.Context) error {
	return mapErr(e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1))
}

func (e *rodElement) HoverClick(ctx context.Context) error {
	el := e.el.Context(ctx)
	if err := el.ScrollIntoView(); err != nil {
		return e.Click(ctx)
	}
	shape, err := el.Shape()
	if err != nil || shape.Box() == nil {
		return e.Click(ctx)
	}
	box := shape.Box()
	target := proto.Point{
		X: box.X + box.Width*(0.25+rand.Float64()*0.5),
		Y: box.Y + box.Height*(0.25+rand.Float64()*0.5),
	}
	mouse := el.Page().Mouse
	if err := mouse.MoveLinear(target, 8+rand.Intn(12)); err != nil {
		return e.Click(ctx)
	}
	if err := hoverPause(ctx); err != nil {
		return err
	}
	if err := mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return e.Click(ctx)
	}
	return nil
}

func (e *rodElement) Focus(ctx context.Context) error {
	return mapErr(e.el.Context(ctx).Focus())
}

func (e *rodElement) Frame(ctx context.Context) (Page, error) {
	frame, err := e.el.Context(ctx).Frame()
	if err != nil {
		return nil, mapErr(err)
	}
	return NewRodPage(frame, 0), nil
}

// hoverPause is the settle time between reaching the target and pressing.
func hoverPause(ctx context.Context) error {
	return Sleep(ctx, time.Duration(100+rand.Intn(200))*time.Millisecond)
}

// mapErr folds driver errors for detached nodes into ErrStaleElement.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var notFound *rod.ObjectNotFoundError
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", ErrStaleElement, err)
	}
	var cdpErr *cdp.Error
	if errors.As(err, &cdpErr) {
		msg := strings.ToLower(cdpErr.Message)
		if strings.Contains(msg, "node") || strings.Contains(msg, "context with specified id") {
			return fmt.Errorf("%w: %v", ErrStaleElement, err)
		}
	}
	return err
}
