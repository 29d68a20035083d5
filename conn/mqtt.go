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
	"sync"
	"time"

	"github.com/golang/glog"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTDialer carries envelopes over an MQTT broker.  The server
// publishes to InTopic, and the client publishes to OutTopic.
//
// Paho's own reconnection is disabled.  A lost connection ends the
// Conn, and the Manager redials.
type MQTTDialer struct {
	Broker   string
	ClientID string
	Username string
	Password string

	InTopic  string
	OutTopic string
	QoS      byte

	KeepAlive time.Duration
	Timeout   time.Duration

	// Quiesce is given to Paho's Disconnect, in milliseconds.
	Quiesce uint
}

func (d *MQTTDialer) timeout() time.Duration {
	if d.Timeout <= 0 {
		return 10 * time.Second
	}
	return d.Timeout
}

func (d *MQTTDialer) Dial(ctx context.Context) (Conn, error) {
	if d.InTopic == "" || d.OutTopic == "" {
		return nil, errors.New("mqtt: in and out topics are required")
	}

	mc := &mqttConn{
		topic:   d.OutTopic,
		qos:     d.QoS,
		timeout: d.timeout(),
		quiesce: d.Quiesce,
		in:      make(chan []byte, 64),
		done:    make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(d.Broker)
	opts.SetClientID(d.ClientID)
	if 0 < d.KeepAlive {
		opts.SetKeepAlive(d.KeepAlive)
	}
	opts.Username = d.Username
	opts.Password = d.Password
	opts.AutoReconnect = false
	opts.CleanSession = true
	opts.SetConnectTimeout(d.timeout())

	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		glog.Warningf("conn: MQTT connection lost: %v", err)
		mc.fail(err)
	}

	client := mqtt.NewClient(opts)
	mc.client = client

	glog.V(1).Infof("conn: connecting to broker %s", d.Broker)
	if err := wait(ctx, client.Connect(), d.timeout()); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	handler := func(client mqtt.Client, msg mqtt.Message) {
		mc.deliver(msg.Payload())
	}
	if err := wait(ctx, client.Subscribe(d.InTopic, d.QoS, handler), d.timeout()); err != nil {
		client.Disconnect(d.Quiesce)
		return nil, fmt.Errorf("mqtt subscribe %s: %w", d.InTopic, err)
	}

	return mc, nil
}

func wait(ctx context.Context, t mqtt.Token, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.WaitTimeout(timeout) {
		return fmt.Errorf("timeout after %v", timeout)
	}
	return t.Error()
}

type mqttConn struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
	quiesce uint

	in chan []byte

	sync.Mutex
	err  error
	done chan struct{}
}

func (c *mqttConn) deliver(bs []byte) {
	select {
	case c.in <- bs:
	case <-c.done:
	}
}

func (c *mqttConn) fail(err error) {
	c.Lock()
	defer c.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
}

func (c *mqttConn) ReadMessage() ([]byte, error) {
	select {
	case bs := <-c.in:
		return bs, nil
	case <-c.done:
		c.Lock()
		defer c.Unlock()
		return nil, c.err
	}
}

func (c *mqttConn) WriteMessage(bs []byte) error {
	select {
	case <-c.done:
		c.Lock()
		defer c.Unlock()
		return c.err
	default:
	}
	return wait(context.Background(), c.client.Publish(c.topic, c.qos, false, bs), c.timeout)
}

func (c *mqttConn) Close() error {
	c.fail(errors.New("mqtt connection closed"))
	if c.client.IsConnected() {
		c.client.Disconnect(c.quiesce)
	}
	return nil
}
