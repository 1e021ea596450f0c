// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldStudentID     = "student_id"
	FieldFacultyID     = "faculty_id"
	FieldConsultID     = "consultation_id"
	FieldAdminID       = "admin_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Hardware / transport fields
	FieldDevice   = "device"
	FieldTopic    = "topic"
	FieldBeaconID = "beacon_id"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Network fields
	FieldRemoteAddr = "remote_addr"
)
