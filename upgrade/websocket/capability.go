// SPDX-License-Identifier: ice License 1.0

package websocket

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // Mandated by RFC 6455.
	"encoding/base64"

	"github.com/gobwas/httphead"
	"github.com/gobwas/ws"
	"github.com/pkg/errors"

	"github.com/ice-blockchain/httpupgrade/eventloop"
	"github.com/ice-blockchain/httpupgrade/http1"
	"github.com/ice-blockchain/httpupgrade/pipeline"
)

func New(cfg *Config, factory HandlerFactory, opts ...Option) *Capability {
	c := &Capability{factory: factory}
	if cfg != nil {
		c.cfg = *cfg
	}
	if c.cfg.MaxMessageSize <= 0 {
		c.cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if len(c.cfg.Subprotocols) != 0 {
		c.protocol = ws.SelectFromSlice(c.cfg.Subprotocols)
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithExtensions accepts every offered extension check approves, parameters untouched.
func WithExtensions(check func(httphead.Option) bool) Option {
	return func(c *Capability) {
		c.extension = check
	}
}

// WithExtensionNegotiation lets negotiate rewrite each offered extension; a zero option declines it.
func WithExtensionNegotiation(negotiate func(httphead.Option) (httphead.Option, error)) Option {
	return func(c *Capability) {
		c.negotiate = negotiate
	}
}

func (*Capability) Protocol() string {
	return Protocol
}

// RequiredHeaders is empty: Sec-WebSocket-Key is never a Connection token, so it is validated while building the response instead.
func (*Capability) RequiredHeaders() []string {
	return nil
}

func (c *Capability) BuildResponseHeaders(req *http1.RequestHead, proposed *http1.Headers) (*http1.Headers, error) {
	if version := req.Headers.Get(headerSecVersion); version != supportedVersion {
		return nil, errors.Wrapf(ErrBadVersion, "got %q", version)
	}
	accept, err := acceptKey(req.Headers.Values(headerSecKey))
	if err != nil {
		return nil, err
	}
	hs, err := c.handshake(req.Headers)
	if err != nil {
		return nil, err
	}
	headers := proposed.Clone()
	headers.Add(headerSecAccept, accept)
	if hs.Protocol != "" {
		headers.Add(headerSecProtocol, hs.Protocol)
	}
	if len(hs.Extensions) != 0 {
		var buf bytes.Buffer
		if _, err = httphead.WriteOptions(&buf, hs.Extensions); err != nil {
			return nil, errors.Wrap(err, "failed to write negotiated extensions")
		}
		headers.Add(headerSecExtensions, buf.String())
	}

	return headers, nil
}

func (c *Capability) Install(ctx *pipeline.Context, req *http1.RequestHead) *eventloop.Future {
	hs, err := c.handshake(req.Headers)
	if err != nil {
		return ctx.Loop().Failed(err)
	}
	p := ctx.Pipeline()
	if err = p.AddAfter(ctx.Name(), CodecHandlerName, newCodec(c.cfg.MaxMessageSize)); err != nil {
		return ctx.Loop().Failed(errors.Wrap(err, "failed to add websocket codec"))
	}
	if c.factory != nil {
		if err = p.AddAfter(CodecHandlerName, ApplicationHandlerName, c.factory(hs)); err != nil {
			return ctx.Loop().Failed(errors.Wrap(err, "failed to add websocket handler"))
		}
	}

	return ctx.Loop().Succeeded()
}

func acceptKey(keys []string) (string, error) {
	if len(keys) != 1 {
		return "", errors.Wrapf(ErrBadKey, "expected exactly one key, got %v", len(keys))
	}
	if decoded, err := base64.StdEncoding.DecodeString(keys[0]); err != nil || len(decoded) != keyLength {
		return "", errors.Wrapf(ErrBadKey, "got %q", keys[0])
	}
	sum := sha1.Sum([]byte(keys[0] + acceptGUID)) //nolint:gosec // Mandated by RFC 6455.

	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

//nolint:gocognit,revive // .
func (c *Capability) handshake(headers *http1.Headers) (hs ws.Handshake, err error) {
	if check := c.protocol; check != nil {
		ps := headers.Values(headerSecProtocol)
		for i := 0; hs.Protocol == "" && err == nil && i < len(ps); i++ {
			var ok bool
			hs.Protocol, ok = selectProtocol(ps[i], check)
			if !ok {
				err = errors.Wrapf(ws.ErrMalformedRequest, "invalid %v", headerSecProtocol)
			}
		}
	}
	if negotiate := c.negotiate; err == nil && negotiate != nil {
		for _, h := range headers.Values(headerSecExtensions) {
			if hs.Extensions, err = negotiateExtensions([]byte(h), hs.Extensions, negotiate); err != nil {
				break
			}
		}
	}
	if check := c.extension; err == nil && check != nil && c.negotiate == nil {
		xs := headers.Values(headerSecExtensions)
		for i := 0; err == nil && i < len(xs); i++ {
			var ok bool
			hs.Extensions, ok = selectExtensions([]byte(xs[i]), hs.Extensions, check)
			if !ok {
				err = errors.Wrapf(ws.ErrMalformedRequest, "invalid %v", headerSecExtensions)
			}
		}
	}

	return hs, err
}

func selectProtocol(h string, check func(string) bool) (ret string, ok bool) {
	ok = httphead.ScanTokens([]byte(h), func(v []byte) bool {
		if check(string(v)) {
			ret = string(v)

			return false
		}

		return true
	})

	return ret, ok
}

func selectExtensions(header []byte, selected []httphead.Option, check func(httphead.Option) bool) ([]httphead.Option, bool) {
	s := httphead.OptionSelector{
		Flags: httphead.SelectCopy,
		Check: check,
	}

	return s.Select(header, selected)
}

//nolint:gocritic // Options are passed by value across httphead.
func negotiateMaybe(in httphead.Option, dest []httphead.Option, f func(httphead.Option) (httphead.Option, error)) ([]httphead.Option, error) {
	if in.Size() == 0 {
		return dest, nil
	}
	opt, err := f(in)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to negotiate extension %s", in.Name)
	}
	if opt.Size() > 0 {
		dest = append(dest, opt) //nolint:revive // .
	}

	return dest, nil
}

func negotiateExtensions(h []byte, dest []httphead.Option, f func(httphead.Option) (httphead.Option, error)) (_ []httphead.Option, err error) {
	index := -1
	var current httphead.Option
	ok := httphead.ScanOptions(h, func(idx int, name, attr, val []byte) httphead.Control {
		if idx != index {
			if dest, err = negotiateMaybe(current, dest, f); err != nil { //nolint:revive // .
				return httphead.ControlBreak
			}
			index = idx
			current = httphead.Option{Name: name}
		}
		if attr != nil {
			current.Parameters.Set(attr, val)
		}

		return httphead.ControlContinue
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ws.ErrMalformedRequest, "invalid %v", headerSecExtensions)
	}

	return negotiateMaybe(current, dest, f)
}
