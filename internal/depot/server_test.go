package depot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"depot/internal/auth"

	"github.com/stretchr/testify/require"
)

const (
	testAccessKey = "testadmin"
	testSecretKey = "testsecret"
)

// newTestHTTPServer wires a ChunkStore behind the full router,
// including the auth gate on mutating routes.
func newTestHTTPServer(t *testing.T) (*ChunkStore, *httptest.Server) {
	t.Helper()

	store, err := NewChunkStore(context.Background(), Config{
		Name:    "test",
		DataDir: t.TempDir(),
	})
	require.NoError(t, err, "NewChunkStore error")
	t.Cleanup(func() { _ = store.Close() })

	server := NewHTTPServer("test", store)
	engine := auth.NewBasicAuthEngine(testAccessKey, testSecretKey)
	httpSrv := httptest.NewServer(server.Handler(engine))
	t.Cleanup(httpSrv.Close)

	return store, httpSrv
}

func authedRequest(t *testing.T, method, url string, body io.Reader) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err, "creating request")
	req.SetBasicAuth(testAccessKey, testSecretKey)
	return req
}

// uploadObject pushes content through the full HTTP upload flow and
// returns the finished handle.
func uploadObject(t *testing.T, httpSrv *httptest.Server, key, contentType string, content []byte) FileHandle {
	t.Helper()
	client := httpSrv.Client()

	body, err := json.Marshal(map[string]any{
		"key":           key,
		"content_type":  contentType,
		"size_in_bytes": len(content),
	})
	require.NoError(t, err, "encoding begin request")

	resp, err := client.Do(authedRequest(t, http.MethodPost, httpSrv.URL+"/uploads", bytes.NewReader(body)))
	require.NoError(t, err, "POST /uploads error")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "POST /uploads status")

	var begin uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&begin), "decoding begin response")
	require.NotEmpty(t, begin.Parts, "allocated parts")

	offset := 0
	for _, part := range begin.Parts {
		end := offset + int(DefaultMaxPartSize)
		if end > len(content) {
			end = len(content)
		}
		partResp, err := client.Do(authedRequest(t, http.MethodPut, httpSrv.URL+part.UploadURL, bytes.NewReader(content[offset:end])))
		require.NoErrorf(t, err, "PUT part %d error", part.PartNumber)
		partResp.Body.Close()
		require.Equalf(t, http.StatusOK, partResp.StatusCode, "PUT part %d status", part.PartNumber)
		offset = end
	}

	finishResp, err := client.Do(authedRequest(t, http.MethodPost, httpSrv.URL+"/uploads/"+begin.Upload.ID+"/finish", nil))
	require.NoError(t, err, "finish error")
	defer finishResp.Body.Close()
	require.Equal(t, http.StatusOK, finishResp.StatusCode, "finish status")

	var handle FileHandle
	require.NoError(t, json.NewDecoder(finishResp.Body).Decode(&handle), "decoding handle")
	return handle
}

func TestUploadAndDownloadOverHTTP(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestHTTPServer(t)
	client := httpSrv.Client()

	content := bytes.Repeat([]byte("0123456789"), 30000)
	handle := uploadObject(t, httpSrv, "files/data.bin", "application/octet-stream", content)
	require.Equal(t, int64(len(content)), handle.SizeInBytes, "handle size")
	require.Equal(t, "/data/test/files/data.bin", handle.DownloadURL, "download URL")

	resp, err := client.Get(httpSrv.URL + handle.DownloadURL)
	require.NoError(t, err, "GET download error")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "GET download status")
	require.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"), "Content-Type")
	require.Equal(t, fmt.Sprintf("%d", len(content)), resp.Header.Get("Content-Length"), "Content-Length")
	require.Equal(t, createETag(handle.ETag), resp.Header.Get("ETag"), "ETag header")
	require.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"), "Accept-Ranges")

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "reading download body")
	require.Equal(t, content, data, "download content")
}

func TestDownloadRanges(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestHTTPServer(t)
	client := httpSrv.Client()

	content := make([]byte, 100000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	handle := uploadObject(t, httpSrv, "ranged.bin", "application/octet-stream", content)

	get := func(rangeHeader string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, httpSrv.URL+handle.DownloadURL, nil)
		require.NoError(t, err, "creating GET request")
		req.Header.Set("Range", rangeHeader)
		resp, err := client.Do(req)
		require.NoError(t, err, "GET with Range error")
		return resp
	}

	t.Run("interior range", func(t *testing.T) {
		resp := get("bytes=1000-1999")
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "ranged GET status")
		require.Equal(t, "1000", resp.Header.Get("Content-Length"), "ranged Content-Length")
		require.Equal(t, fmt.Sprintf("bytes 1000-1999/%d", len(content)), resp.Header.Get("Content-Range"), "Content-Range")

		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "reading range body")
		require.Equal(t, content[1000:2000], data, "range content")
	})

	t.Run("single byte", func(t *testing.T) {
		resp := get("bytes=42-42")
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "single-byte GET status")
		require.Equal(t, "1", resp.Header.Get("Content-Length"), "single-byte Content-Length")

		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "reading single byte")
		require.Equal(t, content[42:43], data, "single-byte content")
	})

	t.Run("last byte", func(t *testing.T) {
		last := len(content) - 1
		resp := get(fmt.Sprintf("bytes=%d-%d", last, last))
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "last-byte GET status")

		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "reading last byte")
		require.Equal(t, content[last:], data, "last-byte content")
	})

	t.Run("end at object size is unsatisfiable", func(t *testing.T) {
		resp := get(fmt.Sprintf("bytes=0-%d", len(content)))
		defer resp.Body.Close()
		require.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode, "end == size status")
		require.Equal(t, fmt.Sprintf("bytes */%d", len(content)), resp.Header.Get("Content-Range"), "unsatisfiable Content-Range")
	})

	t.Run("start past end is unsatisfiable", func(t *testing.T) {
		resp := get(fmt.Sprintf("bytes=%d-%d", len(content), len(content)+10))
		defer resp.Body.Close()
		require.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode, "start >= size status")
	})

	t.Run("multipart range rejected", func(t *testing.T) {
		resp := get("bytes=0-10,20-30")
		defer resp.Body.Close()
		require.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode, "multi-range status")
	})

	malformed := []string{
		"bytes=-500",
		"bytes=500-",
		"bytes=abc-def",
		"bytes=100-50",
		"items=0-10",
		"bytes=",
	}
	for _, header := range malformed {
		header := header
		t.Run("malformed "+header, func(t *testing.T) {
			resp := get(header)
			defer resp.Body.Close()
			require.Equalf(t, http.StatusBadRequest, resp.StatusCode, "status for %q", header)
		})
	}
}

func TestDownloadConditionalRequests(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestHTTPServer(t)
	client := httpSrv.Client()

	content := []byte("conditional body")
	handle := uploadObject(t, httpSrv, "cond.txt", "text/plain", content)

	t.Run("if-none-match hit", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, httpSrv.URL+handle.DownloadURL, nil)
		require.NoError(t, err, "creating request")
		req.Header.Set("If-None-Match", createETag(handle.ETag))
		resp, err := client.Do(req)
		require.NoError(t, err, "GET error")
		defer resp.Body.Close()
		require.Equal(t, http.StatusNotModified, resp.StatusCode, "If-None-Match status")
	})

	t.Run("if-none-match wins over range", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, httpSrv.URL+handle.DownloadURL, nil)
		require.NoError(t, err, "creating request")
		req.Header.Set("If-None-Match", handle.ETag)
		req.Header.Set("Range", "bytes=0-4")
		resp, err := client.Do(req)
		require.NoError(t, err, "GET error")
		defer resp.Body.Close()
		require.Equal(t, http.StatusNotModified, resp.StatusCode, "conditional beats Range")
	})

	t.Run("if-none-match miss", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, httpSrv.URL+handle.DownloadURL, nil)
		require.NoError(t, err, "creating request")
		req.Header.Set("If-None-Match", "\"some-other-etag\"")
		resp, err := client.Do(req)
		require.NoError(t, err, "GET error")
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "stale etag serves content")
	})

	t.Run("if-modified-since hit", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, httpSrv.URL+handle.DownloadURL, nil)
		require.NoError(t, err, "creating request")
		req.Header.Set("If-Modified-Since", handle.UploadedAt.UTC().Format(http.TimeFormat))
		resp, err := client.Do(req)
		require.NoError(t, err, "GET error")
		defer resp.Body.Close()
		require.Equal(t, http.StatusNotModified, resp.StatusCode, "If-Modified-Since status")
	})

	t.Run("head returns headers only", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodHead, httpSrv.URL+handle.DownloadURL, nil)
		require.NoError(t, err, "creating HEAD request")
		resp, err := client.Do(req)
		require.NoError(t, err, "HEAD error")
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "HEAD status")
		require.Equal(t, fmt.Sprintf("%d", len(content)), resp.Header.Get("Content-Length"), "HEAD Content-Length")

		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "reading HEAD body")
		require.Empty(t, data, "HEAD has no body")
	})

	t.Run("options returns headers only", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, httpSrv.URL+handle.DownloadURL, nil)
		require.NoError(t, err, "creating OPTIONS request")
		resp, err := client.Do(req)
		require.NoError(t, err, "OPTIONS error")
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "OPTIONS status")

		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "reading OPTIONS body")
		require.Empty(t, data, "OPTIONS has no body")
	})
}

func TestDownloadUnknownKey(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestHTTPServer(t)

	resp, err := httpSrv.Client().Get(httpSrv.URL + "/data/test/no/such/key")
	require.NoError(t, err, "GET error")
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode, "unknown key status")
}

func TestMutatingRoutesRequireAuth(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestHTTPServer(t)
	client := httpSrv.Client()

	handle := uploadObject(t, httpSrv, "guarded.txt", "text/plain", []byte("guarded"))

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{name: "begin upload", method: http.MethodPost, path: "/uploads"},
		{name: "save part", method: http.MethodPut, path: "/data/test-part/some-part"},
		{name: "finish upload", method: http.MethodPost, path: "/uploads/some-upload/finish"},
		{name: "abort upload", method: http.MethodDelete, path: "/uploads/some-upload"},
		{name: "delete file", method: http.MethodDelete, path: "/files/guarded.txt"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, httpSrv.URL+tc.path, strings.NewReader("{}"))
			require.NoError(t, err, "creating request")
			resp, err := client.Do(req)
			require.NoError(t, err, "request error")
			resp.Body.Close()
			require.Equal(t, http.StatusForbidden, resp.StatusCode, "unauthenticated status")
		})
	}

	// Downloads stay public.
	resp, err := client.Get(httpSrv.URL + handle.DownloadURL)
	require.NoError(t, err, "public GET error")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "public download status")
}

func TestUploadIntrospectionOverHTTP(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestHTTPServer(t)
	client := httpSrv.Client()

	body, err := json.Marshal(map[string]any{"key": "inspect.bin", "size_in_bytes": 0})
	require.NoError(t, err, "encoding begin request")

	resp, err := client.Do(authedRequest(t, http.MethodPost, httpSrv.URL+"/uploads", bytes.NewReader(body)))
	require.NoError(t, err, "POST /uploads error")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "POST /uploads status")

	var begin uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&begin), "decoding begin response")

	readResp, err := client.Get(httpSrv.URL + "/uploads/" + begin.Upload.ID)
	require.NoError(t, err, "GET upload error")
	defer readResp.Body.Close()
	require.Equal(t, http.StatusOK, readResp.StatusCode, "GET upload status")

	var read uploadResponse
	require.NoError(t, json.NewDecoder(readResp.Body).Decode(&read), "decoding read response")
	require.Equal(t, "inspect.bin", read.Upload.Key, "upload key")
	require.Len(t, read.Parts, 1, "parts in read response")

	// Aborting removes it.
	abortResp, err := client.Do(authedRequest(t, http.MethodDelete, httpSrv.URL+"/uploads/"+begin.Upload.ID, nil))
	require.NoError(t, err, "DELETE upload error")
	abortResp.Body.Close()
	require.Equal(t, http.StatusNoContent, abortResp.StatusCode, "DELETE upload status")

	goneResp, err := client.Get(httpSrv.URL + "/uploads/" + begin.Upload.ID)
	require.NoError(t, err, "GET aborted upload error")
	goneResp.Body.Close()
	require.Equal(t, http.StatusNotFound, goneResp.StatusCode, "aborted upload status")
}

func TestFileSearchAndDeleteOverHTTP(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestHTTPServer(t)
	client := httpSrv.Client()

	for _, key := range []string{"logs/a.txt", "logs/b.txt", "misc/c.txt"} {
		uploadObject(t, httpSrv, key, "text/plain", []byte("content of "+key))
	}

	resp, err := client.Get(httpSrv.URL + "/files?prefix=logs/")
	require.NoError(t, err, "GET /files error")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "GET /files status")

	var page fileSearchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page), "decoding search response")
	require.Len(t, page.Items, 2, "files under logs/")
	require.Equal(t, 2, page.Total, "total under logs/")
	require.Equal(t, "logs/a.txt", page.Items[0].Key, "keys ordered")

	delResp, err := client.Do(authedRequest(t, http.MethodDelete, httpSrv.URL+"/files/logs/a.txt", nil))
	require.NoError(t, err, "DELETE file error")
	delResp.Body.Close()
	require.Equal(t, http.StatusNoContent, delResp.StatusCode, "DELETE file status")

	delResp, err = client.Do(authedRequest(t, http.MethodDelete, httpSrv.URL+"/files/logs/a.txt", nil))
	require.NoError(t, err, "second DELETE file error")
	delResp.Body.Close()
	require.Equal(t, http.StatusNotFound, delResp.StatusCode, "second DELETE file status")
}

func TestBeginUploadValidation(t *testing.T) {
	t.Parallel()

	_, httpSrv := newTestHTTPServer(t)
	client := httpSrv.Client()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "malformed json", body: "{", wantStatus: http.StatusBadRequest},
		{name: "missing key", body: `{"size_in_bytes": 10}`, wantStatus: http.StatusBadRequest},
		{name: "negative size", body: `{"key": "x", "size_in_bytes": -1}`, wantStatus: http.StatusBadRequest},
		{name: "oversized", body: fmt.Sprintf(`{"key": "x", "size_in_bytes": %d}`, DefaultMaxFileSize+1), wantStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			resp, err := client.Do(authedRequest(t, http.MethodPost, httpSrv.URL+"/uploads", strings.NewReader(tc.body)))
			require.NoError(t, err, "POST /uploads error")
			resp.Body.Close()
			require.Equal(t, tc.wantStatus, resp.StatusCode, "status code")
		})
	}
}
