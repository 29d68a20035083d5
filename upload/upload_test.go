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

package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type chunk struct {
	VarName  string
	ClientID string
	Context  string
	Part     string
	Total    string
	Filename string
	Data     string
	Cookie   string
}

func recorder(t *testing.T, status int) (*httptest.Server, func() []chunk) {
	var (
		mu     sync.Mutex
		chunks []chunk
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, h, err := r.FormFile("blob")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		bs, _ := io.ReadAll(f)
		c := chunk{
			VarName:  r.FormValue("var_name"),
			ClientID: r.FormValue("client_id"),
			Context:  r.FormValue("context"),
			Part:     r.FormValue("part"),
			Total:    r.FormValue("total"),
			Filename: h.Filename,
			Data:     string(bs),
		}
		if ck, err := r.Cookie("affinity"); err == nil {
			c.Cookie = ck.Value
		}
		mu.Lock()
		chunks = append(chunks, c)
		mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "affinity", Value: "node1", Path: "/"})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []chunk {
		mu.Lock()
		defer mu.Unlock()
		return append([]chunk{}, chunks...)
	}
}

func TestUploadChunks(t *testing.T) {
	srv, chunks := recorder(t, http.StatusOK)

	u, err := NewHTTPUploader(srv.URL+"/uploads", 4)
	if err != nil {
		t.Fatal(err)
	}

	files := []*File{
		{Name: "a.txt", Size: 10, Reader: strings.NewReader("0123456789")},
		{Name: "empty.txt", Size: 0, Reader: strings.NewReader("")},
	}
	target := Target{VarName: "TPEC_file", ClientID: "c1", Context: "mod1"}

	var reports [][2]int64
	progress := func(sent, total int64) {
		reports = append(reports, [2]int64{sent, total})
	}

	if err := u.Upload(context.Background(), target, files, progress); err != nil {
		t.Fatal(err)
	}

	c := func(part, total, name, data, cookie string) chunk {
		return chunk{
			VarName:  "TPEC_file",
			ClientID: "c1",
			Context:  "mod1",
			Part:     part,
			Total:    total,
			Filename: name,
			Data:     data,
			Cookie:   cookie,
		}
	}
	want := []chunk{
		c("0", "3", "a.txt", "0123", ""),
		c("1", "3", "a.txt", "4567", "node1"),
		c("2", "3", "a.txt", "89", "node1"),
		c("0", "1", "empty.txt", "", "node1"),
	}
	if diff := cmp.Diff(want, chunks()); diff != "" {
		t.Fatalf("chunks (-want +got):\n%s", diff)
	}

	wantReports := [][2]int64{{4, 10}, {8, 10}, {10, 10}, {10, 10}}
	if diff := cmp.Diff(wantReports, reports); diff != "" {
		t.Fatalf("progress (-want +got):\n%s", diff)
	}
}

func TestUploadStatusError(t *testing.T) {
	srv, _ := recorder(t, http.StatusForbidden)

	u, err := NewHTTPUploader(srv.URL, 0)
	if err != nil {
		t.Fatal(err)
	}
	if u.ChunkSize != DefaultChunkSize {
		t.Fatal(u.ChunkSize)
	}

	files := []*File{{Name: "x", Size: 1, Reader: strings.NewReader("x")}}
	err = u.Upload(context.Background(), Target{VarName: "TPEC_file"}, files, nil)
	se, is := err.(*StatusError)
	if !is {
		t.Fatalf("wanted a StatusError, got %#v", err)
	}
	if se.Status != http.StatusForbidden || se.File != "x" || se.Part != 0 {
		t.Fatal(se)
	}
}

func TestUploadNeedsVarName(t *testing.T) {
	u := &HTTPUploader{URL: "http://localhost"}
	if err := u.Upload(context.Background(), Target{}, nil, nil); err == nil {
		t.Fatal("uploaded without a variable name")
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte("a,b\n1,2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	f, closer, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()
	if f.Name != "data.csv" || f.Size != 8 {
		t.Fatal(f.Name, f.Size)
	}
}
