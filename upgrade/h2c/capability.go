// SPDX-License-Identifier: ice License 1.0

package h2c

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/http2"

	"github.com/ice-blockchain/httpupgrade/eventloop"
	"github.com/ice-blockchain/httpupgrade/http1"
	"github.com/ice-blockchain/httpupgrade/pipeline"
)

func New(cfg *Config, factory HandlerFactory) *Capability {
	c := &Capability{factory: factory}
	if cfg != nil {
		c.cfg = *cfg
	}
	if c.cfg.MaxConcurrentStreams == 0 {
		c.cfg.MaxConcurrentStreams = DefaultMaxConcurrentStreams
	}

	return c
}

func (*Capability) Protocol() string {
	return Protocol
}

// RequiredHeaders are the two tokens RFC 7540 section 3.2 wants in Connection.
func (*Capability) RequiredHeaders() []string {
	return []string{"upgrade", "http2-settings"}
}

func (*Capability) BuildResponseHeaders(req *http1.RequestHead, proposed *http1.Headers) (*http1.Headers, error) {
	if _, err := clientSettings(req.Headers); err != nil {
		return nil, err
	}

	return proposed, nil
}

func (c *Capability) Install(ctx *pipeline.Context, req *http1.RequestHead) *eventloop.Future {
	settings, err := clientSettings(req.Headers)
	if err != nil {
		return ctx.Loop().Failed(err)
	}
	preface := &prefaceHandler{request: req, clientSettings: settings, serverSettings: c.serverSettings()}
	p := ctx.Pipeline()
	if err = p.AddAfter(ctx.Name(), PrefaceHandlerName, preface); err != nil {
		return ctx.Loop().Failed(errors.Wrap(err, "failed to add h2c preface handler"))
	}
	if c.factory != nil {
		if err = p.AddAfter(PrefaceHandlerName, ApplicationHandlerName, c.factory(req, settings)); err != nil {
			return ctx.Loop().Failed(errors.Wrap(err, "failed to add h2c handler"))
		}
	}

	return preface.start(p.Context(preface))
}

func (c *Capability) serverSettings() []http2.Setting {
	settings := []http2.Setting{{ID: http2.SettingMaxConcurrentStreams, Val: c.cfg.MaxConcurrentStreams}}
	if c.cfg.InitialWindowSize != 0 {
		settings = append(settings, http2.Setting{ID: http2.SettingInitialWindowSize, Val: c.cfg.InitialWindowSize})
	}

	return settings
}

func clientSettings(headers *http1.Headers) ([]http2.Setting, error) {
	values := headers.Values("HTTP2-Settings")
	if len(values) != 1 {
		return nil, errors.Wrapf(ErrBadSettings, "expected exactly one value, got %v", len(values))
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(values[0]), "="))
	if err != nil {
		return nil, errors.Wrapf(ErrBadSettings, "not base64url: %v", err)
	}
	var raw bytes.Buffer
	if err = http2.NewFramer(&raw, nil).WriteRawFrame(http2.FrameSettings, 0, 0, payload); err != nil {
		return nil, errors.Wrap(err, "failed to frame settings payload")
	}
	frame, err := http2.NewFramer(nil, &raw).ReadFrame()
	if err != nil {
		return nil, errors.Wrapf(ErrBadSettings, "%v", err)
	}
	settingsFrame, ok := frame.(*http2.SettingsFrame)
	if !ok {
		return nil, errors.Wrapf(ErrBadSettings, "unexpected %T", frame)
	}
	settings := make([]http2.Setting, 0, settingsFrame.NumSettings())
	if err = settingsFrame.ForeachSetting(func(setting http2.Setting) error {
		if vErr := setting.Valid(); vErr != nil {
			return errors.Wrapf(ErrBadSettings, "%v: %v", setting, vErr)
		}
		settings = append(settings, setting)

		return nil
	}); err != nil {
		return nil, err //nolint:wrapcheck // Already wrapped.
	}

	return settings, nil
}
