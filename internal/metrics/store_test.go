package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserveStoreOp_CountsErrorsByKind(t *testing.T) {
	before := testutil.ToFloat64(StoreOpErrors.WithLabelValues("TestColl", "findOne", ErrKindNotFound))

	ObserveStoreOp("TestColl", "findOne", time.Now(), nil, false)
	ObserveStoreOp("TestColl", "findOne", time.Now(), errors.New("document not found"), true)
	ObserveStoreOp("TestColl", "findOne", time.Now(), errors.New("boom"), false)

	require.Equal(t, before+1, testutil.ToFloat64(StoreOpErrors.WithLabelValues("TestColl", "findOne", ErrKindNotFound)))
	require.Equal(t, float64(1), testutil.ToFloat64(StoreOpErrors.WithLabelValues("TestColl", "findOne", ErrKindError)))
}
