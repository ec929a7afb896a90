package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Métricas de operaciones del store. Viven en un paquete aparte para que el
// host las registre en su propio registry sin importar el store.

// ErrKindNotFound y ErrKindError son los valores del label "kind".
const (
	ErrKindNotFound = "not_found"
	ErrKindError    = "error"
)

var (
	StoreOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "authstore_op_duration_seconds",
		Help:    "Latencia de operaciones del store por colección y operación",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"collection", "op"})

	StoreOpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authstore_op_errors_total",
		Help: "Operaciones del store que terminaron en error",
	}, []string{"collection", "op", "kind"})
)

// Register registra las métricas del store en el registry dado (o el default si es nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{StoreOpDuration, StoreOpErrors} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

// ObserveStoreOp registra la duración de una operación y, si falló, su tipo de error.
// notFound distingue la señal de "no encontrado" de los errores reales.
func ObserveStoreOp(collection, op string, start time.Time, err error, notFound bool) {
	StoreOpDuration.WithLabelValues(collection, op).Observe(time.Since(start).Seconds())
	if err == nil {
		return
	}
	kind := ErrKindError
	if notFound {
		kind = ErrKindNotFound
	}
	StoreOpErrors.WithLabelValues(collection, op, kind).Inc()
}
