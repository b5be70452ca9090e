// Package metrics exposes prometheus counters for chain reads and
// transactions, plus an optional HTTP endpoint serving them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "stablefx"

// Result label values
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultDiscarded = "discarded"
	ResultRejected  = "rejected"
)

var (
	chainReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_reads_total",
			Help:      "Balance and allowance reads by outcome",
		},
		[]string{"read", "result"},
	)

	transactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Approve and swap transactions by outcome",
		},
		[]string{"kind", "result"},
	)
)

// Register adds the collectors to the default registry. Registering twice is harmless.
func Register(logger logrus.FieldLogger) {
	registerIfNotExists(chainReadsTotal, "chain_reads_total", logger)
	registerIfNotExists(transactionsTotal, "transactions_total", logger)
}

func registerIfNotExists(collector prometheus.Collector, name string, logger logrus.FieldLogger) {
	if err := prometheus.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegErr) {
			logger.Debugf("%s already registered", name)
		} else {
			logger.Errorf("Failed to register %s: %v", name, err)
		}
	}
}

// RecordRead counts one completed chain read
func RecordRead(read, result string) {
	chainReadsTotal.WithLabelValues(read, result).Inc()
}

// RecordTransaction counts one finished transaction
func RecordTransaction(kind, result string) {
	transactionsTotal.WithLabelValues(kind, result).Inc()
}

// Server serves /metrics
type Server struct {
	srv    *http.Server
	logger logrus.FieldLogger
}

// StartServer serves the default registry on addr in the background
func StartServer(addr string, logger logrus.FieldLogger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s := &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}

	go func() {
		logger.WithField("addr", addr).Info("metrics server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	return s
}

// Stop shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
