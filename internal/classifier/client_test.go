package classifier

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresmejia3/dfprep/internal/score"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredict(t *testing.T) {
	var got struct {
		Model string `json:"model"`
		Shape []int  `json:"shape"`
		Data  string `json:"data"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/predict", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"score": 0.87}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "MesoNet")
	s, err := c.Predict(context.Background(), score.Tensor{Height: 1, Width: 2, Channels: 1, Data: []float32{0.5, -1}})
	require.NoError(t, err)
	assert.Equal(t, 0.87, s)

	assert.Equal(t, "MesoNet", got.Model)
	assert.Equal(t, []int{1, 1, 2, 1}, got.Shape)
	raw, err := base64.StdEncoding.DecodeString(got.Data)
	require.NoError(t, err)
	require.Len(t, raw, 8)
	assert.Equal(t, float32(-1), math.Float32frombits(binary.LittleEndian.Uint32(raw[4:])))
}

func TestPredictErrors(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusConflict)
	}))
	defer failing.Close()

	_, err := NewClient(failing.URL, "Xception").Predict(context.Background(), score.Tensor{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "model not loaded")

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer empty.Close()

	_, err = NewClient(empty.URL, "Xception").Predict(context.Background(), score.Tensor{})
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/load", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL, "MesoNet").Load(context.Background(), "models/Meso4_DF.h5", 256))
	assert.Equal(t, "models/Meso4_DF.h5", body["weights"])
	assert.Equal(t, float64(256), body["input_size"])
}

func TestWaitForReady(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "MesoNet")
	require.NoError(t, c.WaitForReady(context.Background(), 5*time.Second, 10*time.Millisecond))
	assert.Equal(t, int32(3), hits.Load())
}

func TestWaitForReadyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "MesoNet").WaitForReady(context.Background(), 50*time.Millisecond, 10*time.Millisecond)
	assert.Error(t, err)
}

func TestCheckWeights(t *testing.T) {
	dir := t.TempDir()
	weights := filepath.Join(dir, "Meso4_DF.h5")
	require.NoError(t, os.WriteFile(weights, []byte("hdf5"), 0o644))

	assert.NoError(t, CheckWeights(weights))
	assert.Error(t, CheckWeights(filepath.Join(dir, "missing.h5")))
	assert.Error(t, CheckWeights(dir))
}
