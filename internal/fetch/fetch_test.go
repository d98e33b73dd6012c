package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/osmriver/internal/config"
)

const riverResponse = `{
  "version": 0.6,
  "elements": [
    {"type": "way", "id": 10, "nodes": [1, 2], "tags": {"waterway": "river", "name": "Thames"}},
    {"type": "node", "id": 1, "lat": 51.5, "lon": -0.1},
    {"type": "node", "id": 2, "lat": 51.6, "lon": -0.2}
  ]
}`

var london = &config.BBox{MinLon: -0.5, MinLat: 51.3, MaxLon: 0.3, MaxLat: 51.7, IsSet: true}

func testOptions(url string) Options {
	return Options{URL: url, MaxRetries: 3, RetryDelay: time.Millisecond}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name      string
		waterways []string
		want      string
	}{
		{
			name:      "single waterway",
			waterways: []string{"river"},
			want:      `way["waterway"="river"](51.300000,-0.500000,51.700000,0.300000);`,
		},
		{
			name: "any waterway",
			want: `way["waterway"](51.300000,-0.500000,51.700000,0.300000);`,
		},
		{
			name:      "several waterways",
			waterways: []string{"canal", "river"},
			want:      `way["waterway"~"^(canal|river)$"](51.300000,-0.500000,51.700000,0.300000);`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := BuildQuery(*london, tt.waterways, 90*time.Second)
			assert.True(t, strings.HasPrefix(q, "[out:json][timeout:90];"))
			assert.Contains(t, q, tt.want)
			assert.Contains(t, q, ">;")
		})
	}
}

func TestFetchSuccess(t *testing.T) {
	var gotQuery, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		gotQuery = r.PostForm.Get("data")
		gotAgent = r.UserAgent()
		fmt.Fprint(w, riverResponse)
	}))
	defer srv.Close()

	opts := testOptions(srv.URL)
	opts.UserAgent = "test-agent"
	opts.Waterways = []string{"river"}
	data, err := New(opts).Fetch(context.Background(), london)
	require.NoError(t, err)

	require.Len(t, data.Ways, 1)
	assert.Equal(t, osm.WayID(10), data.Ways[0].ID)
	assert.Len(t, data.Nodes, 2)
	assert.Contains(t, gotQuery, `"waterway"="river"`)
	assert.Equal(t, "test-agent", gotAgent)
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusGatewayTimeout)
		default:
			fmt.Fprint(w, riverResponse)
		}
	}))
	defer srv.Close()

	data, err := New(testOptions(srv.URL)).Fetch(context.Background(), london)
	require.NoError(t, err)
	assert.Len(t, data.Ways, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(testOptions(srv.URL)).Fetch(context.Background(), london)
	require.Error(t, err)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 4, fe.Attempts)
	assert.Equal(t, int32(4), calls.Load())

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad query", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := New(testOptions(srv.URL)).Fetch(context.Background(), london)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 1, fe.Attempts)
	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, err.Error(), "bad query")
}

func TestFetchRemark(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"elements": [], "remark": "runtime error: Query timed out"}`)
	}))
	defer srv.Close()

	_, err := New(testOptions(srv.URL)).Fetch(context.Background(), london)
	var fe *FetchError
	assert.True(t, errors.As(err, &fe))
	assert.Contains(t, err.Error(), "timed out")
}

func TestFetchTilesMerge(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// every tile returns the same way, which must appear once
		fmt.Fprint(w, riverResponse)
	}))
	defer srv.Close()

	opts := testOptions(srv.URL)
	opts.TileDegrees = 0.5
	data, err := New(opts).Fetch(context.Background(), london)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "0.8 x 0.4 degrees splits into two tiles")
	assert.Len(t, data.Ways, 1)
}

func TestFetchRequiresBBox(t *testing.T) {
	_, err := New(testOptions("http://unused")).Fetch(context.Background(), &config.BBox{})
	assert.Error(t, err)
}

func TestFetchCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := testOptions(srv.URL)
	opts.RetryDelay = time.Hour
	_, err := New(opts).Fetch(ctx, london)
	assert.ErrorIs(t, err, context.Canceled)
}

type memCache struct {
	data map[string][]byte
	puts int
}

func (m *memCache) Get(key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Put(key string, data []byte) error {
	m.puts++
	m.data[key] = data
	return nil
}

func TestFetchUsesCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, riverResponse)
	}))
	defer srv.Close()

	c := &memCache{data: map[string][]byte{}}
	opts := testOptions(srv.URL)
	opts.Cache = c
	f := New(opts)

	for i := 0; i < 2; i++ {
		data, err := f.Fetch(context.Background(), london)
		require.NoError(t, err)
		assert.Len(t, data.Ways, 1)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, c.puts)
}

func TestGeocoderLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		switch r.URL.Query().Get("q") {
		case "London":
			fmt.Fprint(w, `[{"display_name":"London, England","boundingbox":["51.28","51.69","-0.51","0.33"]}]`)
		case "Broken":
			fmt.Fprint(w, `[{"display_name":"Broken","boundingbox":["x","1","2","3"]}]`)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	defer srv.Close()

	g := NewGeocoder(srv.URL+"/", "test-agent", 0, time.Millisecond)

	bbox, err := g.Lookup(context.Background(), "London")
	require.NoError(t, err)
	assert.True(t, bbox.IsSet)
	assert.Equal(t, -0.51, bbox.MinLon)
	assert.Equal(t, 51.28, bbox.MinLat)
	assert.Equal(t, 0.33, bbox.MaxLon)
	assert.Equal(t, 51.69, bbox.MaxLat)

	_, err = g.Lookup(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, ErrRegionNotFound)

	_, err = g.Lookup(context.Background(), "Broken")
	assert.Error(t, err)
}
