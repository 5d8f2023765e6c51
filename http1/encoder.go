// SPDX-License-Identifier: ice License 1.0

package http1

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/ice-blockchain/httpupgrade/eventloop"
	"github.com/ice-blockchain/httpupgrade/pipeline"
)

func NewResponseEncoder() *ResponseEncoder {
	return new(ResponseEncoder)
}

func (e *ResponseEncoder) Write(ctx *pipeline.Context, msg any, future *eventloop.Future) {
	switch m := msg.(type) {
	case *ResponseHead:
		e.chunked = m.Headers.HasToken("Transfer-Encoding", "chunked")
		ctx.WriteWithFuture(m.Bytes(), future)
	case ResponseBody:
		if !e.chunked || len(m.Data) == 0 {
			ctx.WriteWithFuture(m.Data, future)

			return
		}
		var buf bytes.Buffer
		buf.WriteString(strconv.FormatInt(int64(len(m.Data)), 16))
		buf.Write(crlf)
		buf.Write(m.Data)
		buf.Write(crlf)
		ctx.WriteWithFuture(buf.Bytes(), future)
	case ResponseEnd:
		if e.chunked {
			e.chunked = false
			ctx.WriteWithFuture([]byte("0\r\n\r\n"), future)

			return
		}
		ctx.WriteWithFuture([]byte{}, future)
	default:
		ctx.WriteWithFuture(msg, future)
	}
}

// Bytes renders the status line and the headers, including the empty line that ends the head.
func (r *ResponseHead) Bytes() []byte {
	version := r.Version
	if version.Major == 0 {
		version = Version{Major: 1, Minor: 1}
	}
	reason := r.Reason
	if reason == "" {
		reason = http.StatusText(r.Status)
	}
	var buf bytes.Buffer
	buf.WriteString("HTTP/")
	buf.WriteString(strconv.Itoa(version.Major))
	buf.WriteByte('.')
	buf.WriteString(strconv.Itoa(version.Minor))
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(r.Status))
	buf.WriteByte(' ')
	buf.WriteString(reason)
	buf.Write(crlf)
	if r.Headers != nil {
		r.Headers.writeTo(&buf)
	}
	buf.Write(crlf)

	return buf.Bytes()
}

func NewSwitchingProtocols(headers *Headers) *ResponseHead {
	return &ResponseHead{Version: Version{Major: 1, Minor: 1}, Status: StatusSwitchingProtocols, Headers: headers}
}
