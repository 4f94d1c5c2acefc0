package core

import (
	"context"

	"github.com/autopeer-io/voltlink/internal/telemetry"
)

// Analyzer is the remote analysis service.
type Analyzer interface {
	// Analyze returns the service verdict for one record.
	Analyze(ctx context.Context, r telemetry.Record) (*telemetry.FaultAnalysis, error)

	// Ask answers a free-form operator question about the record.
	Ask(ctx context.Context, question string, r telemetry.Record) (string, error)
}
