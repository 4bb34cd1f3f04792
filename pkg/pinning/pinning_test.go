package pinning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawCIDDeterministic(t *testing.T) {
	a, err := RawCID([]byte("ebook"))
	require.NoError(t, err)
	b, err := RawCID([]byte("ebook"))
	require.NoError(t, err)
	c, err := RawCID([]byte("other"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a.String(), "bafkrei"))
}

func TestParsePointer(t *testing.T) {
	id, err := RawCID([]byte("doc"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		pointer string
		wantErr bool
	}{
		{name: "ipfs scheme", pointer: "ipfs://" + id.String()},
		{name: "bare", pointer: id.String()},
		{name: "with path", pointer: "ipfs://" + id.String() + "/file.pdf"},
		{name: "redundant segment", pointer: "ipfs://ipfs/" + id.String()},
		{name: "garbage", pointer: "ipfs://zzz", wantErr: true},
		{name: "empty", pointer: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePointer(tt.pointer)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, id, got)
		})
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	pointer, err := store.Upload(context.Background(), "book.pdf", strings.NewReader("%PDF bytes"))
	require.NoError(t, err)

	id, err := ParsePointer(pointer)
	require.NoError(t, err)
	assert.True(t, store.Has(id))
	assert.Equal(t, "book.pdf", store.Name(id))

	data, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "%PDF bytes", string(data))

	again, err := store.Upload(context.Background(), "copy.pdf", strings.NewReader("%PDF bytes"))
	require.NoError(t, err)
	assert.Equal(t, pointer, again)
	assert.Equal(t, 1, store.Len())

	missing, err := RawCID([]byte("missing"))
	require.NoError(t, err)
	_, err = store.Get(missing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreGateway(t *testing.T) {
	store := NewMemoryStore()
	pointer, err := store.Upload(context.Background(), "meta.json", strings.NewReader(`{"name":"x"}`))
	require.NoError(t, err)
	id, err := ParsePointer(pointer)
	require.NoError(t, err)

	server := httptest.NewServer(store)
	defer server.Close()

	missing, err := RawCID([]byte("missing"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{name: "stored object", path: "/ipfs/" + id.String(), status: http.StatusOK},
		{name: "unknown cid", path: "/ipfs/" + missing.String(), status: http.StatusNotFound},
		{name: "invalid cid", path: "/ipfs/nope", status: http.StatusBadRequest},
		{name: "outside ipfs", path: "/ipns/x", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(server.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func pinataServer(t *testing.T, handler func(w http.ResponseWriter, name, file, auth string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)

		var meta struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal([]byte(r.FormValue("pinataMetadata")), &meta)
		handler(w, meta.Name, string(data), r.Header.Get("Authorization"))
	}))
}

func TestPinataUpload(t *testing.T) {
	id, err := RawCID([]byte("cover bytes"))
	require.NoError(t, err)

	var mu sync.Mutex
	var gotName, gotFile, gotAuth string
	server := pinataServer(t, func(w http.ResponseWriter, name, file, auth string) {
		mu.Lock()
		gotName, gotFile, gotAuth = name, file, auth
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"IpfsHash": id.String(), "PinSize": len(file), "Timestamp": "2024-01-01T00:00:00Z"})
	})
	defer server.Close()

	var last, total atomic.Int64
	client, err := NewPinataClient(PinataOptions{
		URL: server.URL,
		JWT: "secret-jwt",
		Progress: func(sent, all int64) {
			last.Store(sent)
			total.Store(all)
		},
	})
	require.NoError(t, err)

	pointer, err := client.Upload(context.Background(), "cover.png", strings.NewReader("cover bytes"))
	require.NoError(t, err)
	assert.Equal(t, "ipfs://"+id.String(), pointer)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "cover.png", gotName)
	assert.Equal(t, "cover bytes", gotFile)
	assert.Equal(t, "Bearer secret-jwt", gotAuth)
	assert.Equal(t, total.Load(), last.Load())
	assert.Greater(t, total.Load(), int64(len("cover bytes")))
}

func TestPinataErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"error":{"reason":"INVALID_CREDENTIALS","details":"Invalid/expired credentials"}}`,
			check: func(t *testing.T, err error) {
				var httpErr *HTTPError
				require.ErrorAs(t, err, &httpErr)
				assert.True(t, httpErr.IsUnauthorized())
				assert.Equal(t, "HTTP 401: INVALID_CREDENTIALS - Invalid/expired credentials", err.Error())
			},
		},
		{
			name:   "flat error",
			status: http.StatusBadRequest,
			body:   `{"error":"file too big"}`,
			check: func(t *testing.T, err error) {
				assert.Equal(t, "HTTP 400: file too big", err.Error())
			},
		},
		{
			name:   "invalid hash",
			status: http.StatusOK,
			body:   `{"IpfsHash":"not-a-cid"}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidCID)
			},
		},
		{
			name:   "missing hash",
			status: http.StatusOK,
			body:   `{}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidCID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := pinataServer(t, func(w http.ResponseWriter, name, file, auth string) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			defer server.Close()

			client, err := NewPinataClient(PinataOptions{URL: server.URL, JWT: "jwt"})
			require.NoError(t, err)

			_, err = client.Upload(context.Background(), "f", strings.NewReader("x"))
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestNewPinataClientValidation(t *testing.T) {
	_, err := NewPinataClient(PinataOptions{})
	assert.True(t, errors.Is(err, ErrMissingCredential))

	_, err = NewPinataClient(PinataOptions{URL: "http://pinning.example", JWT: "jwt"})
	assert.Error(t, err)

	_, err = NewPinataClient(PinataOptions{JWT: "jwt"})
	assert.NoError(t, err)
}
