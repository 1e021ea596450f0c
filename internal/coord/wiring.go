// SPDX-License-Identifier: MIT

package coord

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/consultease/central/internal/audit"
	"github.com/consultease/central/internal/bus"
	"github.com/consultease/central/internal/log"
	"github.com/consultease/central/internal/rfid"
	"github.com/consultease/central/internal/store"
)

// routeBus binds the broker subscriptions to the presence tracker and
// the consultation engine. Handlers run on the bus worker pool; every
// downstream call here is a non-blocking enqueue or a short DB write.
func (c *Coordinator) routeBus() {
	c.Bus.Subscribe(bus.StatusPattern, 1, c.onDeskStatus)
	c.Bus.Subscribe(bus.MacStatusPattern, 1, c.onMacStatus)
	c.Bus.Subscribe(bus.ResponsesPattern, 1, c.onResponse)
	c.Bus.Subscribe(bus.LegacyStatusTopic, 1, c.onLegacyStatus)
	c.Bus.Subscribe(bus.LegacyMessagesTopic, 1, c.onLegacyMessage)
}

func (c *Coordinator) onDeskStatus(topic string, payload []byte) {
	facultyID, _, ok := bus.ParseFacultyTopic(topic)
	if !ok {
		return
	}
	present, ok := bus.PresenceFromStatus(string(payload))
	if !ok {
		c.logger.Warn().Str(log.FieldTopic, topic).Str("status", string(payload)).
			Str("event", "coord.status_unknown").Msg("unrecognized desk status")
		return
	}
	c.Presence.DeskStatus(facultyID, present, time.Now())
}

func (c *Coordinator) onMacStatus(topic string, payload []byte) {
	facultyID, _, ok := bus.ParseFacultyTopic(topic)
	if !ok {
		return
	}
	var ms bus.MacStatus
	if err := json.Unmarshal(payload, &ms); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldTopic, topic).
			Str("event", "coord.mac_status_malformed").Msg("mac_status payload rejected")
		return
	}
	at := ms.At
	if at.IsZero() {
		at = time.Now()
	}
	// mac_status doubles as the desk heartbeat.
	c.Presence.SyncReport(facultyID, store.SyncSynced, at)

	present, ok := bus.PresenceFromStatus(ms.Status)
	if !ok {
		return
	}
	if mac := strings.ToUpper(strings.TrimSpace(ms.MAC)); mac != "" {
		c.Presence.BeaconSighting(mac, present, at)
		return
	}
	// No beacon detail: treat as a plain desk report for the topic owner.
	c.Presence.DeskStatus(facultyID, present, at)
}

func (c *Coordinator) onResponse(topic string, payload []byte) {
	facultyID, _, ok := bus.ParseFacultyTopic(topic)
	if !ok {
		return
	}
	var resp bus.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldTopic, topic).
			Str("event", "coord.response_malformed").Msg("response payload rejected")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Consult.HandleResponse(ctx, facultyID, resp); err != nil {
		c.logger.Warn().Err(err).
			Int64(log.FieldConsultID, resp.ConsultationID).
			Int64(log.FieldFacultyID, facultyID).
			Str("event", "coord.response_rejected").Msg("desk response not applied")
	}
}

func (c *Coordinator) onLegacyStatus(_ string, payload []byte) {
	ls := bus.DecodeLegacyStatus(payload)
	present, ok := bus.PresenceFromStatus(ls.Status)
	if !ok {
		return
	}
	c.Presence.DeskStatus(ls.FacultyID, present, time.Now())
}

// onLegacyMessage accepts the single-desk message topic. A response-shaped
// payload goes through the consultation engine for faculty 1; anything
// else is surfaced in the log.
func (c *Coordinator) onLegacyMessage(_ string, payload []byte) {
	var resp bus.Response
	if err := json.Unmarshal(payload, &resp); err == nil && resp.ConsultationID != 0 && resp.Action != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Consult.HandleResponse(ctx, 1, resp); err != nil {
			c.logger.Warn().Err(err).Int64(log.FieldConsultID, resp.ConsultationID).
				Str("event", "coord.legacy_response_rejected").Msg("legacy desk response not applied")
		}
		return
	}
	c.logger.Info().Str("payload", string(payload)).
		Str("event", "coord.legacy_message").Msg("message on legacy topic")
}

// pumpScans is the single consumer of the reader's scan channel.
func (c *Coordinator) pumpScans(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case scan := <-c.Reader.Scans():
			c.Auth.HandleScan(ctx, scan, c.scan)
		}
	}
}

// presenceNotice is the broadcast payload kiosks consume to refresh
// their availability boards.
type presenceNotice struct {
	FacultyID   int64     `json:"faculty_id"`
	Present     bool      `json:"present"`
	GraceActive bool      `json:"grace_active"`
	At          time.Time `json:"at"`
}

// pumpPresence broadcasts every presence transition. Availability fan-out
// is fire-and-forget: a kiosk that misses one update converges on the
// next.
func (c *Coordinator) pumpPresence(ctx context.Context) error {
	ch := c.Presence.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case change := <-ch:
			body, err := json.Marshal(presenceNotice{
				FacultyID:   change.FacultyID,
				Present:     change.Present,
				GraceActive: change.GraceActive,
				At:          change.At,
			})
			if err != nil {
				continue
			}
			c.Bus.Publish(bus.SystemNotificationsTopic, body, 0)
		}
	}
}

// pumpReaderEvents surfaces reader health transitions to the audit trail
// and the broadcast topic.
func (c *Coordinator) pumpReaderEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.Reader.Events():
			switch ev.Kind {
			case rfid.EventDeviceLost:
				c.Recorder.Record(ctx, audit.Event{
					Type:      audit.EventDeviceLost,
					ActorName: "system",
					Action:    "rfid reader lost, simulation fallback active",
					Resource:  "rfid/" + ev.Device,
					Outcome:   store.AuditWarning,
				})
				c.broadcast("rfid", "card reader unavailable, contact an administrator")
			case rfid.EventDeviceFound:
				c.Recorder.System(ctx, audit.EventSystemStart, "rfid reader attached: "+ev.Device)
				c.broadcast("rfid", "card reader restored")
			case rfid.EventSimulation:
				c.logger.Info().Str("event", "coord.rfid_simulation").
					Msg("rfid running in simulation mode")
			}
		}
	}
}

func (c *Coordinator) broadcast(kind, text string) {
	body, err := json.Marshal(bus.Notification{Kind: kind, Text: text, At: time.Now()})
	if err != nil {
		return
	}
	c.Bus.Publish(bus.SystemNotificationsTopic, body, 0)
}
