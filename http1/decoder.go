// SPDX-License-Identifier: ice License 1.0

package http1

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/gobwas/httphead"
	"github.com/pkg/errors"

	"github.com/ice-blockchain/httpupgrade/eventloop"
	"github.com/ice-blockchain/httpupgrade/pipeline"
	"github.com/ice-blockchain/httpupgrade/terror"
)

func NewRequestDecoder(maxHeadSize int) *RequestDecoder {
	if maxHeadSize <= 0 {
		maxHeadSize = DefaultMaxHeadSize
	}

	return &RequestDecoder{maxHeadSize: maxHeadSize}
}

// HandlerRemoved forwards whatever was received but not decoded yet.
func (d *RequestDecoder) HandlerRemoved(ctx *pipeline.Context) {
	if leftover := d.buf; len(leftover) != 0 && !d.failed {
		d.buf = nil
		ctx.FireChannelRead(leftover)
	}
}

func (d *RequestDecoder) ChannelRead(ctx *pipeline.Context, msg any) {
	data, ok := msg.([]byte)
	if !ok {
		ctx.FireChannelRead(msg)

		return
	}
	if d.failed {
		return
	}
	d.buf = append(d.buf, data...)
	d.decode(ctx)
}

func (*RequestDecoder) ChannelReadComplete(ctx *pipeline.Context) {
	ctx.FireChannelReadComplete()
}

// Write counts the final responses going out, to know when a paused decoder can carry on.
func (d *RequestDecoder) Write(ctx *pipeline.Context, msg any, future *eventloop.Future) {
	if head, ok := msg.(*ResponseHead); ok && head.Status >= 200 {
		d.responses++
		if d.paused() && d.responses >= d.pausedAt {
			d.pausedAt = 0
			ctx.Loop().Execute(func() {
				if !ctx.Removed() {
					d.decode(ctx)
				}
			})
		}
	}
	ctx.WriteWithFuture(msg, future)
}

func (d *RequestDecoder) paused() bool {
	return d.pausedAt != 0
}

func (d *RequestDecoder) decode(ctx *pipeline.Context) {
	for !d.paused() && !d.failed && !ctx.Removed() {
		progressed, err := d.step(ctx)
		if err != nil {
			d.failed = true
			d.buf = nil
			ctx.FireErrorCaught(terror.New(err, map[string]any{"channel": ctx.Channel().ID(), "request": d.requests}))

			return
		}
		if !progressed {
			return
		}
	}
}

//nolint:funlen,gocognit,revive // Keeping the whole state machine in one place.
func (d *RequestDecoder) step(ctx *pipeline.Context) (bool, error) {
	switch d.state {
	case stateHead:
		for bytes.HasPrefix(d.buf, crlf) {
			d.buf = d.buf[len(crlf):]
		}
		end := bytes.Index(d.buf, headEnd)
		if end < 0 {
			if len(d.buf) > d.maxHeadSize {
				return false, errors.Wrapf(ErrHeadTooLarge, "more than %v bytes without the end of head", d.maxHeadSize)
			}

			return false, nil
		}
		if end > d.maxHeadSize {
			return false, errors.Wrapf(ErrHeadTooLarge, "%v bytes", end)
		}
		head, err := parseRequestHead(d.buf[:end])
		if err != nil {
			return false, err
		}
		d.buf = d.buf[end+len(headEnd):]
		chunked, length, err := bodyFraming(head.Headers)
		if err != nil {
			return false, err
		}
		d.requests++
		d.upgradeAsked = head.Headers.Contains("Upgrade")
		ctx.FireChannelRead(head)
		switch {
		case chunked:
			d.state = stateChunkSize
		case length > 0:
			d.state, d.remaining = stateBody, length
		default:
			d.endRequest(ctx, nil)
		}

		return true, nil
	case stateBody, stateChunkData:
		if len(d.buf) == 0 {
			return false, nil
		}
		n := min(int64(len(d.buf)), d.remaining)
		ctx.FireChannelRead(BodyChunk{Data: bytes.Clone(d.buf[:n])})
		d.buf, d.remaining = d.buf[n:], d.remaining-n
		if d.remaining == 0 {
			if d.state == stateBody {
				d.endRequest(ctx, nil)
			} else {
				d.state = stateChunkDataEnd
			}
		}

		return true, nil
	case stateChunkDataEnd:
		if len(d.buf) < len(crlf) {
			return false, nil
		}
		if !bytes.HasPrefix(d.buf, crlf) {
			return false, errors.Wrap(ErrMalformedRequest, "chunk data is not followed by CRLF")
		}
		d.buf, d.state = d.buf[len(crlf):], stateChunkSize

		return true, nil
	case stateChunkSize:
		line, found, err := d.nextLine()
		if !found || err != nil {
			return false, err
		}
		size, err := parseChunkSize(line)
		if err != nil {
			return false, err
		}
		if size == 0 {
			d.state, d.trailers = stateTrailers, new(Headers)
		} else {
			d.state, d.remaining = stateChunkData, size
		}

		return true, nil
	case stateTrailers:
		line, found, err := d.nextLine()
		if !found || err != nil {
			return false, err
		}
		if len(line) == 0 {
			trailers := d.trailers
			d.trailers = nil
			if trailers.Len() == 0 {
				trailers = nil
			}
			d.endRequest(ctx, trailers)

			return true, nil
		}
		k, v, ok := httphead.ParseHeaderLine(line)
		if !ok {
			return false, errors.Wrapf(ErrMalformedRequest, "invalid trailer line %q", line)
		}
		d.trailers.Add(string(k), string(v))

		return true, nil
	default:
		return false, errors.Errorf("unexpected decoder state %v", d.state)
	}
}

func (d *RequestDecoder) endRequest(ctx *pipeline.Context, trailers *Headers) {
	d.state = stateHead
	if d.upgradeAsked {
		d.upgradeAsked = false
		if d.responses < d.requests {
			d.pausedAt = d.requests
		}
	}
	ctx.FireChannelRead(RequestEnd{Trailers: trailers})
}

func (d *RequestDecoder) nextLine() (line []byte, found bool, err error) {
	ix := bytes.Index(d.buf, crlf)
	if ix < 0 {
		if len(d.buf) > d.maxHeadSize {
			return nil, false, errors.Wrapf(ErrHeadTooLarge, "line longer than %v bytes", d.maxHeadSize)
		}

		return nil, false, nil
	}
	line, d.buf = d.buf[:ix], d.buf[ix+len(crlf):]

	return line, true, nil
}

func parseRequestHead(raw []byte) (*RequestHead, error) {
	lines := bytes.Split(raw, crlf)
	requestLine, ok := httphead.ParseRequestLine(lines[0])
	if !ok {
		return nil, errors.Wrapf(ErrMalformedRequest, "invalid request line %q", lines[0])
	}
	if requestLine.Version.Major != 1 {
		return nil, errors.Wrapf(ErrMalformedRequest, "unsupported version %v.%v", requestLine.Version.Major, requestLine.Version.Minor)
	}
	headers := &Headers{fields: make([]field, 0, len(lines)-1)}
	for _, line := range lines[1:] {
		if len(line) != 0 && (line[0] == ' ' || line[0] == '\t') {
			return nil, errors.Wrap(ErrMalformedRequest, "obsolete header line folding")
		}
		k, v, ok := httphead.ParseHeaderLine(line)
		if !ok || len(k) == 0 {
			return nil, errors.Wrapf(ErrMalformedRequest, "invalid header line %q", line)
		}
		headers.Add(string(k), string(v))
	}

	return &RequestHead{
		Method:  string(requestLine.Method),
		URI:     string(requestLine.URI),
		Version: Version{Major: requestLine.Version.Major, Minor: requestLine.Version.Minor},
		Headers: headers,
	}, nil
}

func bodyFraming(headers *Headers) (chunked bool, length int64, err error) {
	if codings := headers.CanonicalValues("Transfer-Encoding"); len(codings) != 0 {
		if !strings.EqualFold(codings[len(codings)-1], "chunked") {
			return false, 0, errors.Wrapf(ErrMalformedRequest, "transfer-encoding %v does not end with chunked", codings)
		}
		if headers.Contains("Content-Length") {
			return false, 0, errors.Wrap(ErrMalformedRequest, "both transfer-encoding and content-length present")
		}

		return true, 0, nil
	}
	for ix, value := range headers.CanonicalValues("Content-Length") {
		parsed, pErr := strconv.ParseInt(value, 10, 64)
		if pErr != nil || parsed < 0 {
			return false, 0, errors.Wrapf(ErrMalformedRequest, "invalid content-length %q", value)
		}
		if ix > 0 && parsed != length {
			return false, 0, errors.Wrap(ErrMalformedRequest, "conflicting content-length values")
		}
		length = parsed
	}

	return false, length, nil
}

func parseChunkSize(line []byte) (int64, error) {
	if ix := bytes.IndexByte(line, ';'); ix >= 0 {
		line = line[:ix]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(string(line)), 16, 64)
	if err != nil || size < 0 {
		return 0, errors.Wrapf(ErrMalformedRequest, "invalid chunk size %q", line)
	}

	return size, nil
}
