// SPDX-License-Identifier: MIT

// Package telemetry provides OpenTelemetry tracing utilities for the
// central coordination server.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Broker attributes
	BrokerTopicKey = "broker.topic"
	BrokerQoSKey   = "broker.qos"
	BrokerBytesKey = "broker.payload_bytes"

	// Consultation attributes
	ConsultIDKey     = "consult.id"
	ConsultStatusKey = "consult.status"
	ConsultCourseKey = "consult.course"

	// Presence attributes
	PresenceFacultyKey = "presence.faculty_id"
	PresenceSourceKey  = "presence.source"
	PresenceStateKey   = "presence.present"

	// Scan attributes
	ScanDeviceKey   = "scan.device"
	ScanResolvedKey = "scan.resolved"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// BrokerAttributes creates broker-message span attributes.
func BrokerAttributes(topic string, qos byte, payloadBytes int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(BrokerTopicKey, topic),
		attribute.Int(BrokerQoSKey, int(qos)),
		attribute.Int(BrokerBytesKey, payloadBytes),
	}
}

// ConsultAttributes creates consultation-related span attributes.
// Zero and empty fields are omitted.
func ConsultAttributes(id int64, status, course string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if id != 0 {
		attrs = append(attrs, attribute.Int64(ConsultIDKey, id))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(ConsultStatusKey, status))
	}
	if course != "" {
		attrs = append(attrs, attribute.String(ConsultCourseKey, course))
	}
	return attrs
}

// PresenceAttributes creates presence-transition span attributes.
func PresenceAttributes(facultyID int64, source string, present bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(PresenceFacultyKey, facultyID),
		attribute.String(PresenceSourceKey, source),
		attribute.Bool(PresenceStateKey, present),
	}
}

// ScanAttributes creates card-scan span attributes. The card UID itself
// is never attached to a span.
func ScanAttributes(device string, resolved bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ScanDeviceKey, device),
		attribute.Bool(ScanResolvedKey, resolved),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
