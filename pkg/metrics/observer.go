package metrics

import (
	"github.com/Aleph-Alpha/smallrabbit/pkg/rabbit"
)

var _ rabbit.Observer = (*Metrics)(nil)

// ObserveOperation records one operation reported by the rabbit package.
func (m *Metrics) ObserveOperation(op rabbit.OperationContext) {
	status := "success"
	if op.Error != nil {
		status = "error"
	}

	m.operations.WithLabelValues(op.Component, op.Operation, op.Resource, status).Inc()
	m.duration.WithLabelValues(op.Component, op.Operation, op.Resource, status).Observe(op.Duration.Seconds())
	if op.Size > 0 {
		m.bytes.WithLabelValues(op.Component, op.Operation, op.Resource).Add(float64(op.Size))
	}

	switch op.Operation {
	case "connect", "reconnect":
		if op.Error != nil {
			m.connected.WithLabelValues(op.Component).Set(0)
		} else {
			m.connected.WithLabelValues(op.Component).Set(1)
		}
	}
}
