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

// Package upload sends files to the server in chunks over HTTP.
//
// Uploads are a side channel.  They don't go through the connection
// and don't touch the variable store.  The server updates the target
// variable itself once it has every chunk.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/publicsuffix"
)

// DefaultChunkSize is one MiB.
const DefaultChunkSize = 1024 * 1024

// File is something to upload.
type File struct {
	Name   string
	Size   int64
	Reader io.Reader
}

// Open makes a File from a filesystem path.  The caller closes the
// returned closer.
func Open(path string) (*File, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return &File{
		Name:   filepath.Base(path),
		Size:   info.Size(),
		Reader: f,
	}, f, nil
}

// Target says where the server should put the uploaded files.
type Target struct {
	VarName  string
	ClientID string
	Context  string

	// OnAction, if not empty, names an action the server calls when
	// the upload is complete.
	OnAction string
}

// Progress reports the bytes sent so far out of the total.
type Progress func(sent, total int64)

// Uploader uploads files.
type Uploader interface {
	Upload(ctx context.Context, t Target, files []*File, progress Progress) error
}

// StatusError reports a response that wasn't a 2xx.
type StatusError struct {
	Status int
	File   string
	Part   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upload of %s part %d: status %d: %s", e.File, e.Part, e.Status, e.Body)
}

// HTTPUploader posts multipart forms, one per chunk.
type HTTPUploader struct {
	URL       string
	ChunkSize int
	Client    *http.Client
}

// NewHTTPUploader makes an HTTPUploader whose client keeps cookies,
// which some servers use for session affinity.
func NewHTTPUploader(url string, chunkSize int) (*HTTPUploader, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &HTTPUploader{
		URL:       url,
		ChunkSize: chunkSize,
		Client: &http.Client{
			Jar:     jar,
			Timeout: time.Minute,
		},
	}, nil
}

// Upload sends the files one after the other.
//
// A file of size zero is still sent as one empty chunk.  The total
// given to progress is the sum of the files' sizes.
func (u *HTTPUploader) Upload(ctx context.Context, t Target, files []*File, progress Progress) error {
	if t.VarName == "" {
		return errors.New("upload: no variable name")
	}
	if u.URL == "" {
		return errors.New("upload: no URL")
	}

	var total, sent int64
	for _, f := range files {
		total += f.Size
	}

	size := u.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	buf := make([]byte, size)

	for _, f := range files {
		parts := int((f.Size + int64(size) - 1) / int64(size))
		if parts == 0 {
			parts = 1
		}
		for part := 0; part < parts; part++ {
			n, err := io.ReadFull(f.Reader, buf)
			switch err {
			case nil, io.EOF, io.ErrUnexpectedEOF:
			default:
				return fmt.Errorf("upload: reading %s: %w", f.Name, err)
			}
			if err := u.post(ctx, t, f.Name, part, parts, buf[:n]); err != nil {
				return err
			}
			sent += int64(n)
			if progress != nil {
				progress(sent, total)
			}
		}
		glog.V(1).Infof("upload: sent %s (%d parts) to %s", f.Name, parts, t.VarName)
	}
	return nil
}

func (u *HTTPUploader) post(ctx context.Context, t Target, name string, part, total int, chunk []byte) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fields := [][2]string{
		{"var_name", t.VarName},
		{"client_id", t.ClientID},
		{"context", t.Context},
		{"part", strconv.Itoa(part)},
		{"total", strconv.Itoa(total)},
	}
	if t.OnAction != "" {
		fields = append(fields, [2]string{"on_action", t.OnAction})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	fw, err := w.CreateFormFile("blob", name)
	if err != nil {
		return err
	}
	if _, err = fw.Write(chunk); err != nil {
		return err
	}
	if err = w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || 300 <= resp.StatusCode {
		bs, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{
			Status: resp.StatusCode,
			File:   name,
			Part:   part,
			Body:   string(bs),
		}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
