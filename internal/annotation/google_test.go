package annotation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type fakeVideoAPI struct {
	mu       sync.Mutex
	request  map[string]any
	polls    int
	doneOn   int
	response string
}

func (f *fakeVideoAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/videos:annotate":
		f.request = map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&f.request)
		_, _ = w.Write([]byte(`{"name": "projects/p/locations/us-east1/operations/42"}`))
	case r.Method == http.MethodGet && r.URL.Path == "/v1/projects/p/locations/us-east1/operations/42":
		f.polls++
		if f.polls < f.doneOn {
			_, _ = w.Write([]byte(`{"name": "projects/p/locations/us-east1/operations/42", "done": false}`))
			return
		}
		_, _ = w.Write([]byte(`{"name": "projects/p/locations/us-east1/operations/42", "done": true, "response": ` + f.response + `}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestGoogleService(t *testing.T, api *fakeVideoAPI) *GoogleVideoService {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	svc, err := NewGoogleVideoService(context.Background(),
		GoogleConfig{LocationID: "us-east1", PollInterval: time.Millisecond},
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return svc
}

func TestGoogleSubmitAndAwait(t *testing.T) {
	api := &fakeVideoAPI{doneOn: 2, response: sampleResponse}
	svc := newTestGoogleService(t, api)
	ctx := context.Background()

	handle, err := svc.Submit(ctx, []byte("mp4-bytes"), AllFeatures)
	require.NoError(t, err)
	assert.Equal(t, "projects/p/locations/us-east1/operations/42", handle)

	api.mu.Lock()
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("mp4-bytes")), api.request["inputContent"])
	assert.Equal(t, "us-east1", api.request["locationId"])
	assert.Equal(t, []any{"LABEL_DETECTION", "OBJECT_TRACKING", "TEXT_DETECTION", "SHOT_CHANGE_DETECTION"}, api.request["features"])
	api.mu.Unlock()

	raw, err := svc.Await(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, 2, api.polls)

	a, err := Parse(raw)
	require.NoError(t, err)
	assert.NotEmpty(t, a.Labels)
}

func TestGoogleAwaitReportsOperationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name": "op", "done": true, "error": {"code": 3, "message": "bad video"}}`))
	}))
	defer srv.Close()
	svc, err := NewGoogleVideoService(context.Background(), GoogleConfig{PollInterval: time.Millisecond},
		option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = svc.Await(context.Background(), "projects/p/locations/l/operations/op")
	assert.ErrorContains(t, err, "bad video")
}
