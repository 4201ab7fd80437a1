// Package sse streams remote item events over Server-Sent Events.
//
// Broker fans published events out to every connected stream and keeps a
// short history so a client reconnecting with Last-Event-ID misses nothing.
// Client implements coordinator.Feed on top of such a stream and reconnects
// with exponential backoff until its context is canceled.
package sse

import (
	"bytes"
	"strconv"
	"time"

	"github.com/c0deZ3R0/go-order-kit/coordinator"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
)

const component = kiterr.Component("transport/sse")

const (
	defaultMinReconnect = 250 * time.Millisecond
	defaultMaxReconnect = 30 * time.Second
	defaultKeepAlive    = 15 * time.Second
	defaultHistorySize  = 1024
	defaultBufferSize   = 64
)

// frame is one dispatched SSE message.
type frame struct {
	id    string
	event string
	data  []byte
}

func (f frame) seq() (uint64, bool) {
	n, err := strconv.ParseUint(f.id, 10, 64)
	return n, err == nil
}

// parser accumulates "field: value" lines until a blank line dispatches them.
type parser struct {
	cur     frame
	hasData bool
}

// line feeds one line and returns a frame when the line completes one.
func (p *parser) line(l []byte) (frame, bool) {
	if len(l) == 0 {
		if !p.hasData {
			p.cur = frame{}
			return frame{}, false
		}
		f := p.cur
		p.cur, p.hasData = frame{}, false
		return f, true
	}
	if l[0] == ':' {
		return frame{}, false
	}
	field, value := l, []byte(nil)
	if i := bytes.IndexByte(l, ':'); i >= 0 {
		field, value = l[:i], l[i+1:]
		value = bytes.TrimPrefix(value, []byte(" "))
	}
	switch string(field) {
	case "data":
		if p.hasData {
			p.cur.data = append(p.cur.data, '\n')
		}
		p.cur.data = append(p.cur.data, value...)
		p.hasData = true
	case "id":
		p.cur.id = string(value)
	case "event":
		p.cur.event = string(value)
	}
	return frame{}, false
}

func eventName(ev coordinator.Event) string {
	if ev.Type == "" {
		return coordinator.EventItemMoved
	}
	return ev.Type
}
