package otel

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ServiceName is the service.name of every span and metric the agent emits.
const ServiceName = "serversnitch"

const instrumentationName = "github.com/bc-dunia/serversnitch"

// Attribute keys shared by resources, spans and events.
const (
	AttrAgentID     = attribute.Key("serversnitch.agent_id")
	AttrSerialPort  = attribute.Key("serversnitch.serial.port")
	AttrCycleID     = attribute.Key("serversnitch.cycle_id")
	AttrCommand     = attribute.Key("serversnitch.command")
	AttrCommandCode = attribute.Key("serversnitch.command_code")
	AttrEUI         = attribute.Key("serversnitch.eui")
	AttrErrorKind   = attribute.Key("serversnitch.error.kind")
)

// agentResource identifies one agent process and the device port it serves.
// Empty values are left out.
func agentResource(version, agentID, port string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(ServiceName)}
	if version != "" {
		attrs = append(attrs, semconv.ServiceVersion(version))
	}
	if agentID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(agentID), AttrAgentID.String(agentID))
	}
	if port != "" {
		attrs = append(attrs, AttrSerialPort.String(port))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes("", attrs...))
}
