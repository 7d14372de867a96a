package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klashlabs/klash-engine/internal/domain"
)

func TestClassify(t *testing.T) {
	var gotReq classifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/classify", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		_ = json.NewEncoder(w).Encode(classifyResponse{
			Labels:      []string{"yes", "no"},
			Confidences: []float64{0.9, 0.7},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 0)
	cls, err := c.Classify(context.Background(), []string{"t1", "t2"}, []string{"yes", "no"})
	require.NoError(t, err)

	assert.Equal(t, []string{"t1", "t2"}, gotReq.Texts)
	assert.Equal(t, []string{"yes", "no"}, gotReq.CandidateLabels)
	assert.Equal(t, []string{"yes", "no"}, cls.Labels)
	assert.Equal(t, []float64{0.9, 0.7}, cls.Confidences)
}

func TestClassifyMisalignedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(classifyResponse{
			Labels:      []string{"yes"},
			Confidences: []float64{0.9},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0)
	_, err := c.Classify(context.Background(), []string{"t1", "t2"}, []string{"yes", "no"})
	assert.ErrorIs(t, err, domain.ErrClassificationFailure)
}

func TestClassifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0)
	_, err := c.Classify(context.Background(), []string{"t1"}, []string{"yes", "no"})
	assert.ErrorIs(t, err, domain.ErrClassificationFailure)
	assert.Contains(t, err.Error(), "status 503")
}

func TestScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sentiment", r.URL.Path)
		_ = json.NewEncoder(w).Encode(sentimentResponse{
			Labels:      []string{"positive", "negative"},
			Polarities:  []float64{0.8, -0.4},
			Confidences: []float64{0.95, 0.6},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0)
	scores, err := c.Score(context.Background(), []string{"t1", "t2"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.8, -0.4}, scores.Polarities)
	assert.Equal(t, []float64{0.95, 0.6}, scores.Confidences)
}

func TestScoreMisalignedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sentimentResponse{
			Labels:      []string{"positive", "negative"},
			Polarities:  []float64{0.8},
			Confidences: []float64{0.95, 0.6},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0)
	_, err := c.Score(context.Background(), []string{"t1", "t2"})
	assert.ErrorIs(t, err, domain.ErrClassificationFailure)
}
