package topic

import (
	"fmt"
)

// Topic segments. These are the contract between an agent and whatever
// consumes its relay stream; changing them breaks existing consumers.
const (
	// SegmentTelemetry carries every accepted record (Agent -> Broker).
	// Structure: {root}/telemetry/{deviceID}
	SegmentTelemetry = "telemetry"

	// SegmentAnalysis carries each completed analysis (Agent -> Broker).
	// Structure: {root}/analysis/{deviceID}
	SegmentAnalysis = "analysis"

	// SegmentOnline carries the retained link status, also used as the
	// last will (Agent -> Broker).
	// Structure: {root}/online/{deviceID}
	SegmentOnline = "online"

	// SegmentCommand carries remote connect/disconnect requests
	// (Broker -> Agent).
	// Structure: {root}/command/{deviceID}
	SegmentCommand = "command"
)

// Builder constructs topic strings under a root namespace.
type Builder struct {
	// root is the base namespace for all topics (e.g. "voltlink/v1").
	root string
}

// NewBuilder creates a Builder for root.
func NewBuilder(root string) *Builder {
	return &Builder{root: root}
}

// Build returns {root}/{segment}/{id}.
func (b *Builder) Build(segment, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, segment, id)
}

// Telemetry returns the record topic of deviceID.
func (b *Builder) Telemetry(deviceID string) string {
	return b.Build(SegmentTelemetry, deviceID)
}

// Analysis returns the analysis topic of deviceID.
func (b *Builder) Analysis(deviceID string) string {
	return b.Build(SegmentAnalysis, deviceID)
}

// Online returns the link status topic of deviceID.
func (b *Builder) Online(deviceID string) string {
	return b.Build(SegmentOnline, deviceID)
}

// Command returns the command topic of deviceID.
func (b *Builder) Command(deviceID string) string {
	return b.Build(SegmentCommand, deviceID)
}

// All returns the filter matching segment for every device:
// {root}/{segment}/+
func (b *Builder) All(segment string) string {
	return b.Build(segment, Wildcard)
}
