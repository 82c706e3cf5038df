package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type (
	// MetricsServer exposes the metrics of the default prometheus
	// registry on /metrics.
	MetricsServer struct {
		srv *http.Server
		lis net.Listener
		wg  sync.WaitGroup
	}
)

const shutdownTimeout = 5 * time.Second

// ServeMetrics starts a MetricsServer listening on address.
func ServeMetrics(address string) (*MetricsServer, error) {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("error listening on metrics address '%s': %w", address, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	m := &MetricsServer{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		lis: lis,
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.
				WithError(err).
				WithField("metrics_addr", lis.Addr().String()).
				Error("error serving metrics")
		}
	}()

	return m, nil
}

// Addr returns the address the server is listening on.
func (m *MetricsServer) Addr() net.Addr {
	return m.lis.Addr()
}

func (m *MetricsServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := m.srv.Shutdown(ctx)
	m.wg.Wait()
	if err != nil {
		return fmt.Errorf("error shutting down metrics server: %w", err)
	}
	return nil
}
