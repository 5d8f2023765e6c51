// SPDX-License-Identifier: ice License 1.0

package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"

	"github.com/pkg/errors"

	"github.com/ice-blockchain/httpupgrade/http1"
	"github.com/ice-blockchain/httpupgrade/pipeline"
	"github.com/ice-blockchain/httpupgrade/terror"
)

// ChannelRead assembles requests and serves each one once its end is seen. Handlers run on the connection's loop,
// so they must not block for long.
func (b *httpBridge) ChannelRead(ctx *pipeline.Context, msg any) {
	switch m := msg.(type) {
	case *http1.RequestHead:
		b.request = m
		b.body.Reset()
	case http1.BodyChunk:
		b.body.Write(m.Data)
	case http1.RequestEnd:
		if b.request == nil {
			return
		}
		b.serve(ctx)
		b.request = nil
		b.body.Reset()
	default:
		ctx.FireChannelRead(msg)
	}
}

func (b *httpBridge) ErrorCaught(ctx *pipeline.Context, err error) {
	defer ctx.FireErrorCaught(err)
	if b.failed {
		return
	}
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, http1.ErrHeadTooLarge):
		status = http.StatusRequestHeaderFieldsTooLarge
	case errors.Is(err, http1.ErrMalformedRequest):
	default:
		return
	}
	b.failed = true
	headers := http1.NewHeaders("content-length", "0", "connection", "close")
	ctx.Write(&http1.ResponseHead{Status: status, Headers: headers})
	ctx.WriteAndFlush(http1.ResponseEnd{}).OnComplete(func(error) { ctx.Close() })
}

func (b *httpBridge) serve(ctx *pipeline.Context) {
	req, err := b.newRequest()
	if err != nil {
		ctx.FireErrorCaught(terror.New(err, map[string]any{"channel": ctx.Channel().ID(), "uri": b.request.URI}))
		b.respond(ctx, &bufferedResponse{status: http.StatusBadRequest, header: make(http.Header)}, false)

		return
	}
	resp := &bufferedResponse{header: make(http.Header)}
	b.router.ServeHTTP(resp, req)
	b.respond(ctx, resp, keepAlive(b.request))
}

func (b *httpBridge) newRequest() (*http.Request, error) {
	head := b.request
	req, err := http.NewRequestWithContext(b.ctx, head.Method, head.URI, io.NopCloser(bytes.NewReader(bytes.Clone(b.body.Bytes()))))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid request target %q", head.URI)
	}
	req.Proto = fmt.Sprintf("HTTP/%v.%v", head.Version.Major, head.Version.Minor)
	req.ProtoMajor, req.ProtoMinor = head.Version.Major, head.Version.Minor
	req.RequestURI = head.URI
	req.RemoteAddr = b.remoteAddr
	req.ContentLength = int64(b.body.Len())
	head.Headers.Each(func(name, value string) {
		req.Header.Add(name, value)
	})
	if host := head.Headers.Get("Host"); host != "" {
		req.Host = host
	}

	return req, nil
}

func (b *httpBridge) respond(ctx *pipeline.Context, resp *bufferedResponse, keepAlive bool) {
	status := resp.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := http1.NewHeaders()
	names := make([]string, 0, len(resp.header))
	for name := range resp.header {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		for _, value := range resp.header[name] {
			headers.Add(name, value)
		}
	}
	headers.Del("Transfer-Encoding")
	headers.Set("Content-Length", strconv.Itoa(resp.body.Len()))
	if !keepAlive {
		headers.Set("Connection", "close")
	}
	ctx.Write(&http1.ResponseHead{Status: status, Headers: headers})
	if resp.body.Len() != 0 && b.request.Method != http.MethodHead {
		ctx.Write(http1.ResponseBody{Data: resp.body.Bytes()})
	}
	written := ctx.WriteAndFlush(http1.ResponseEnd{})
	if !keepAlive {
		written.OnComplete(func(error) { ctx.Close() })
	}
}

func keepAlive(head *http1.RequestHead) bool {
	if head.Headers.HasToken("Connection", "close") {
		return false
	}
	if head.Version.Major == 1 && head.Version.Minor == 0 {
		return head.Headers.HasToken("Connection", "keep-alive")
	}

	return true
}

func (r *bufferedResponse) Header() http.Header {
	return r.header
}

func (r *bufferedResponse) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.body.Write(p)

	return n, errors.Wrap(err, "failed to buffer response body")
}

func (r *bufferedResponse) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}
