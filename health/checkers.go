package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/glimte/celery-amqp-go/connector"
	"github.com/glimte/celery-amqp-go/contracts"
)

// ConnectorChecker checks that the connector's broker connection can be established
type ConnectorChecker struct {
	connector connector.Connector
	details   contracts.ConnectionDetails
	probe     bool
	logger    *slog.Logger
}

// NewConnectorChecker creates a checker for c. With probe set an idle connection is
// connected during the check; otherwise an idle connection reports degraded.
func NewConnectorChecker(c connector.Connector, details contracts.ConnectionDetails, probe bool, logger *slog.Logger) *ConnectorChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectorChecker{
		connector: c,
		details:   details,
		probe:     probe,
		logger:    logger,
	}
}

func (c *ConnectorChecker) Name() string {
	return "broker"
}

func (c *ConnectorChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]any{
			"url":      c.details.Redacted(),
			"exchange": c.details.Exchange,
		},
	}

	conn := c.connector.GetConnection(c.details)

	switch {
	case conn.IsConnected():
		result.Status = StatusHealthy
		result.Message = "connected"
	case !c.probe:
		result.Status = StatusDegraded
		result.Message = "not connected, will connect on next use"
	default:
		if err := c.connector.Connect(ctx, conn); err != nil {
			c.logger.Warn("broker health check failed", "error", err)
			result.Fail("failed to connect", err)
			break
		}
		result.Status = StatusHealthy
		result.Message = "connected"
	}

	result.Duration = time.Since(start)
	return result
}
