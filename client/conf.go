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

package client

import (
	"fmt"
	"os"
	"time"

	"github.com/Comcast/guisync/conn"
	"github.com/Comcast/guisync/session"
	"github.com/Comcast/guisync/session/bolt"
	"github.com/Comcast/guisync/upload"

	"gopkg.in/yaml.v2"
)

// Conf configures an App.
type Conf struct {
	// URL is the server's WebSocket URL.
	URL string `json:"url" yaml:"url"`

	// Transport is "ws" (the default) or "mqtt".
	Transport string `json:"transport" yaml:"transport"`

	MQTT MQTTConf `json:"mqtt" yaml:"mqtt"`

	// Path is the page whose module context is requested first.
	Path string `json:"path" yaml:"path"`

	// Propagate is written into every out-bound envelope.
	Propagate bool `json:"propagate" yaml:"propagate"`

	Conn conn.Settings `json:"conn" yaml:"conn"`

	HandshakeTimeout time.Duration `json:"handshakeTimeout" yaml:"handshakeTimeout"`
	PingInterval     time.Duration `json:"pingInterval" yaml:"pingInterval"`
	WriteTimeout     time.Duration `json:"writeTimeout" yaml:"writeTimeout"`

	Session SessionConf `json:"session" yaml:"session"`
	Upload  UploadConf  `json:"upload" yaml:"upload"`

	// Metrics registers the connection's Prometheus collectors
	// with the default registry.
	Metrics bool `json:"metrics" yaml:"metrics"`
}

type MQTTConf struct {
	Broker    string        `json:"broker" yaml:"broker"`
	ClientID  string        `json:"clientId" yaml:"clientId"`
	Username  string        `json:"username" yaml:"username"`
	Password  string        `json:"password" yaml:"password"`
	InTopic   string        `json:"inTopic" yaml:"inTopic"`
	OutTopic  string        `json:"outTopic" yaml:"outTopic"`
	QoS       byte          `json:"qos" yaml:"qos"`
	KeepAlive time.Duration `json:"keepAlive" yaml:"keepAlive"`
}

// SessionConf says where the client id is persisted.
type SessionConf struct {
	// Kind is "mem" (the default), "json" or "bolt".
	Kind     string `json:"kind" yaml:"kind"`
	Filename string `json:"filename" yaml:"filename"`

	// Scope defaults to the URL.
	Scope string `json:"scope" yaml:"scope"`
}

type UploadConf struct {
	URL       string `json:"url" yaml:"url"`
	ChunkSize int    `json:"chunkSize" yaml:"chunkSize"`
}

// DefaultConf returns a new Conf with defaults.
func DefaultConf() *Conf {
	return &Conf{
		URL:              "ws://localhost:5000/ws",
		Transport:        "ws",
		Path:             "/",
		Propagate:        true,
		Conn:             conn.DefaultSettings,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     25 * time.Second,
		WriteTimeout:     10 * time.Second,
		Session: SessionConf{
			Kind: "mem",
		},
		Upload: UploadConf{
			ChunkSize: upload.DefaultChunkSize,
		},
	}
}

// LoadConf reads YAML (or JSON) from the file over DefaultConf().
func LoadConf(filename string) (*Conf, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseConf(bs)
}

// ParseConf is LoadConf for bytes.
func ParseConf(bs []byte) (*Conf, error) {
	c := DefaultConf()
	if err := yaml.Unmarshal(bs, c); err != nil {
		return nil, fmt.Errorf("bad conf: %w", err)
	}
	return c, nil
}

// Dialer makes the dialer for the configured transport.
func (c *Conf) Dialer() (conn.Dialer, error) {
	switch c.Transport {
	case "", "ws":
		return &conn.WebSocketDialer{
			URL:              c.URL,
			HandshakeTimeout: c.HandshakeTimeout,
			PingInterval:     c.PingInterval,
			WriteTimeout:     c.WriteTimeout,
		}, nil
	case "mqtt":
		return &conn.MQTTDialer{
			Broker:    c.MQTT.Broker,
			ClientID:  c.MQTT.ClientID,
			Username:  c.MQTT.Username,
			Password:  c.MQTT.Password,
			InTopic:   c.MQTT.InTopic,
			OutTopic:  c.MQTT.OutTopic,
			QoS:       c.MQTT.QoS,
			KeepAlive: c.MQTT.KeepAlive,
			Timeout:   c.HandshakeTimeout,
			Quiesce:   100,
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", c.Transport)
	}
}

// Storage makes the configured session storage.
func (c *Conf) Storage() (session.Storage, error) {
	scope := c.Session.Scope
	if scope == "" {
		scope = c.URL
	}
	switch c.Session.Kind {
	case "", "mem":
		return session.NewMemStorage(), nil
	case "json":
		if c.Session.Filename == "" {
			return nil, fmt.Errorf("json session storage needs a filename")
		}
		return session.NewJSONStore(c.Session.Filename, scope), nil
	case "bolt":
		if c.Session.Filename == "" {
			return nil, fmt.Errorf("bolt session storage needs a filename")
		}
		return bolt.NewStorage(c.Session.Filename, scope), nil
	default:
		return nil, fmt.Errorf("unknown session storage %q", c.Session.Kind)
	}
}

// Uploader makes an upload.Uploader if an upload URL is configured.
func (c *Conf) Uploader() (upload.Uploader, error) {
	if c.Upload.URL == "" {
		return nil, nil
	}
	u, err := upload.NewHTTPUploader(c.Upload.URL, c.Upload.ChunkSize)
	if err != nil {
		return nil, err
	}
	return u, nil
}
