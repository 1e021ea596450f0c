// SPDX-License-Identifier: MIT

package bus

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Topic layout. Desk units publish status/mac_status/responses under their
// faculty id; the central server publishes requests/messages per faculty
// and broadcast notifications.
const (
	prefix = "consultease"

	SystemNotificationsTopic = prefix + "/system/notifications"

	StatusPattern    = prefix + "/faculty/+/status"
	MacStatusPattern = prefix + "/faculty/+/mac_status"
	ResponsesPattern = prefix + "/faculty/+/responses"

	// Legacy single-desk deployments publish on these topics. They map to
	// faculty id 1 unless the payload embeds an id.
	LegacyStatusTopic   = "professor/status"
	LegacyMessagesTopic = "professor/messages"
)

// RequestsTopic is the faculty-scoped topic a desk unit watches for
// incoming consultation requests.
func RequestsTopic(facultyID int64) string {
	return fmt.Sprintf("%s/faculty/%d/requests", prefix, facultyID)
}

// MessagesTopic carries desk-bound notifications for one faculty.
func MessagesTopic(facultyID int64) string {
	return fmt.Sprintf("%s/faculty/%d/messages", prefix, facultyID)
}

// StatusTopic is where a desk unit reports beacon presence.
func StatusTopic(facultyID int64) string {
	return fmt.Sprintf("%s/faculty/%d/status", prefix, facultyID)
}

// ResponsesTopic is where a desk unit reports consultation actions.
func ResponsesTopic(facultyID int64) string {
	return fmt.Sprintf("%s/faculty/%d/responses", prefix, facultyID)
}

// MacStatusTopic is where a desk unit reports its beacon scan detail.
func MacStatusTopic(facultyID int64) string {
	return fmt.Sprintf("%s/faculty/%d/mac_status", prefix, facultyID)
}

// ParseFacultyTopic extracts the faculty id and leaf from a
// consultease/faculty/{id}/{leaf} topic. ok is false for any other shape.
func ParseFacultyTopic(topic string) (facultyID int64, leaf string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != prefix || parts[1] != "faculty" {
		return 0, "", false
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, parts[3], true
}

// Desk status strings accepted on the status topic.
const (
	StatusKeychainConnected    = "keychain_connected"
	StatusKeychainDisconnected = "keychain_disconnected"
	StatusFacultyPresent       = "faculty_present"
	StatusFacultyAbsent        = "faculty_absent"
)

// PresenceFromStatus maps a desk status string to a presence verdict.
// ok is false for strings outside the protocol.
func PresenceFromStatus(status string) (present bool, ok bool) {
	switch strings.TrimSpace(status) {
	case StatusKeychainConnected, StatusFacultyPresent:
		return true, true
	case StatusKeychainDisconnected, StatusFacultyAbsent:
		return false, true
	default:
		return false, false
	}
}

// MacStatus is the desk unit's beacon scan report. It doubles as the desk
// heartbeat.
type MacStatus struct {
	Status    string    `json:"status"`
	MAC       string    `json:"mac"`
	At        time.Time `json:"at"`
	FacultyID int64     `json:"faculty_id,omitempty"`
}

// Request is the payload the central server publishes on a faculty's
// requests topic. The consultation id is the message id for
// at-least-once delivery.
type Request struct {
	ConsultationID int64     `json:"consultation_id"`
	StudentName    string    `json:"student_name"`
	CourseCode     string    `json:"course_code"`
	Message        string    `json:"message"`
	RequestedAt    time.Time `json:"requested_at"`
}

// Response is a desk unit's verdict on a consultation.
type Response struct {
	ConsultationID int64     `json:"consultation_id"`
	Action         string    `json:"action"` // accept|busy|complete
	At             time.Time `json:"at"`
}

// Notification is a desk-bound or broadcast informational message.
type Notification struct {
	Kind string    `json:"kind"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// LegacyStatus is the payload shape on professor/status. The embedded
// faculty id is optional; absent means faculty 1.
type LegacyStatus struct {
	Status    string `json:"status"`
	FacultyID int64  `json:"faculty_id,omitempty"`
}

// DecodeLegacyStatus accepts both the bare-string and the JSON form used
// by old desk firmware.
func DecodeLegacyStatus(payload []byte) LegacyStatus {
	var ls LegacyStatus
	if err := json.Unmarshal(payload, &ls); err == nil && ls.Status != "" {
		if ls.FacultyID == 0 {
			ls.FacultyID = 1
		}
		return ls
	}
	return LegacyStatus{Status: strings.TrimSpace(string(payload)), FacultyID: 1}
}
