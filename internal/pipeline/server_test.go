package pipeline

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServerRoutes(t *testing.T) {
	tracker := NewTracker()
	tracker.Begin("zoning_fl_alachua_gainesville", "zoning")
	tracker.SetState("zoning_fl_alachua_gainesville", StateDownloading)
	tracker.Begin("zoning_fl_duval_jacksonville", "zoning")
	tracker.Finish("zoning_fl_duval_jacksonville", StateFailed, assert.AnError)

	srv := httptest.NewServer(NewServer(tracker, zap.NewNop()).Routes())
	defer srv.Close()

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("run stats", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/runs")
		require.NoError(t, err)
		defer resp.Body.Close()

		var stats Stats
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
		assert.Equal(t, int64(2), stats.Total)
		assert.Equal(t, int64(1), stats.Failed)
	})

	t.Run("entities", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/runs/entities")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body struct {
			Entities []EntityStatus `json:"entities"`
			Count    int            `json:"count"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, 2, body.Count)

		states := map[string]State{}
		for _, e := range body.Entities {
			states[e.ID] = e.State
		}
		assert.Equal(t, StateDownloading, states["zoning_fl_alachua_gainesville"])
		assert.Equal(t, StateFailed, states["zoning_fl_duval_jacksonville"])
	})
}

func TestFSM(t *testing.T) {
	f := NewFSM()
	assert.Equal(t, StatePending, f.Current())
	assert.True(t, f.CanTransition(StateDownloading))
	assert.NoError(t, f.Transition(StateDownloading))
	assert.Error(t, f.Transition(StateDone), "downloading cannot jump straight to done")
	assert.NoError(t, f.Transition(StateNoNewData))
}
