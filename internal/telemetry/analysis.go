package telemetry

// FaultStatus is the overall health verdict returned by the analysis service.
type FaultStatus string

const (
	FaultStatusHealthy  FaultStatus = "HEALTHY"
	FaultStatusWarning  FaultStatus = "WARNING"
	FaultStatusCritical FaultStatus = "CRITICAL"
)

// Valid reports whether s is one of the known verdicts.
func (s FaultStatus) Valid() bool {
	switch s {
	case FaultStatusHealthy, FaultStatusWarning, FaultStatusCritical:
		return true
	}
	return false
}

// FaultAnalysis is the remote service's verdict for one record.
type FaultAnalysis struct {
	Status         FaultStatus `json:"status"`
	Analysis       string      `json:"analysis"`
	Recommendation string      `json:"recommendation"`
}
