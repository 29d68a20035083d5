/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// WebSocketDialer dials a WebSocket server.
type WebSocketDialer struct {
	URL    string
	Header http.Header

	HandshakeTimeout time.Duration

	// PingInterval, if positive, is how often to ping the server.
	// A connection that hasn't heard a pong in two intervals
	// fails.
	PingInterval time.Duration

	WriteTimeout time.Duration
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	glog.V(1).Infof("conn: dialing %s", d.URL)
	c, _, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, err
	}

	wc := &wsConn{
		c:            c,
		writeTimeout: d.WriteTimeout,
		done:         make(chan struct{}),
	}

	if 0 < d.PingInterval {
		wait := 2 * d.PingInterval
		c.SetReadDeadline(time.Now().Add(wait))
		c.SetPongHandler(func(string) error {
			return c.SetReadDeadline(time.Now().Add(wait))
		})
		go wc.ping(d.PingInterval)
	}

	return wc, nil
}

type wsConn struct {
	c            *websocket.Conn
	writeTimeout time.Duration

	once sync.Once
	done chan struct{}
}

// ReadMessage returns the next text or binary message.  A close frame
// from the server results in an error that wraps ErrServerClosed.
func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		typ, bs, err := c.c.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil, fmt.Errorf("%w: %v", ErrServerClosed, ce)
			}
			return nil, err
		}
		switch typ {
		case websocket.TextMessage, websocket.BinaryMessage:
			return bs, nil
		}
	}
}

func (c *wsConn) WriteMessage(bs []byte) error {
	if 0 < c.writeTimeout {
		c.c.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.c.WriteMessage(websocket.TextMessage, bs)
}

// Close sends a close frame and closes the connection.
func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.c.Close()
	})
	return err
}

func (c *wsConn) ping(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval)); err != nil {
				glog.V(1).Infof("conn: ping: %v", err)
				return
			}
		}
	}
}
