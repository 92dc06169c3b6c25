package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exalotto/deployer/internal/orchestrator"
	"github.com/exalotto/deployer/internal/txn"
	"github.com/exalotto/deployer/internal/unit"
)

func TestCollector_TracksAttempts(t *testing.T) {
	ctx := context.Background()
	c := New()

	c.AttemptFailed(ctx, "deploy Lottery", 1, errors.New("timeout"))
	c.AttemptFailed(ctx, "deploy Lottery", 2, errors.New("timeout"))
	c.Confirmed(ctx, "deploy Lottery", &txn.Result{Attempts: 3}, 4*time.Second)
	c.Confirmed(ctx, "LotteryToken.transfer", &txn.Result{Attempts: 2, Skipped: true}, time.Second)
	c.Exhausted(ctx, "deploy Drawing", 3, errors.New("timeout"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.TxAttempts.WithLabelValues("deploy Lottery", OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TxAttempts.WithLabelValues("deploy Lottery", OutcomeConfirmed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TxAttempts.WithLabelValues("LotteryToken.transfer", OutcomeSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TxExhausted.WithLabelValues("deploy Drawing")))

	// skipped actions are not timed
	assert.Equal(t, 1, testutil.CollectAndCount(c.TxConfirmSeconds))
}

func TestCollector_UnitsAndSteps(t *testing.T) {
	ctx := context.Background()
	c := New()

	c.UnitDeployed(ctx, unit.Deployed{Name: "Drawing", Address: common.HexToAddress("0x01")})
	c.UnitDeployed(ctx, unit.Deployed{Name: "Lottery", Address: common.HexToAddress("0x02"), Implementation: common.HexToAddress("0x03")})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.UnitsDeployed.WithLabelValues("Drawing", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.UnitsDeployed.WithLabelValues("Lottery", "true")))

	c.ObserveStep(orchestrator.StepReport{Name: orchestrator.StepToken, Duration: time.Second})
	c.ObserveStep(orchestrator.StepReport{Name: orchestrator.StepTokenTransfer, Skipped: true})
	c.ObserveStep(orchestrator.StepReport{Name: orchestrator.StepGovernor, Error: "reverted"})

	assert.Equal(t, 3, testutil.CollectAndCount(c.StepSeconds))
	count, err := testutil.GatherAndCount(c.Registry(), "exalotto_step_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestCollector_ObserveRun(t *testing.T) {
	c := New()

	c.ObserveRun(errors.New("step governor: reverted"))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RunFailures))
	assert.Zero(t, testutil.ToFloat64(c.RunLastSuccess))

	c.ObserveRun(nil)
	assert.InDelta(t, float64(time.Now().Unix()), testutil.ToFloat64(c.RunLastSuccess), 5)
}

func TestCollector_Push(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		path = r.URL.Path
		body = string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New()
	c.Exhausted(context.Background(), "deploy Drawing", 3, errors.New("timeout"))

	require.NoError(t, c.Push(context.Background(), server.URL, map[string]string{"chain_id": "1337"}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/metrics/job/"+JobName+"/chain_id/1337", path)
	assert.True(t, strings.Contains(body, "exalotto_tx_exhausted_total"), "pushed body lacks the exhausted counter")
}

func TestCollector_PushError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := New().Push(context.Background(), server.URL, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), server.URL)
}
