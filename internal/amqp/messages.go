package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"comissao/internal/core"
)

// EventType names a change to a service record.
type EventType string

const (
	EventCreated    EventType = "service.created"
	EventAuthorized EventType = "service.authorized"
	EventRevoked    EventType = "service.revoked"
	EventDeleted    EventType = "service.deleted"
)

func (e EventType) valid() bool {
	switch e {
	case EventCreated, EventAuthorized, EventRevoked, EventDeleted:
		return true
	}
	return false
}

// ServiceSnapshot is the record state carried by an event.
type ServiceSnapshot struct {
	Title          string    `json:"title"`
	ServiceType    string    `json:"service_type"`
	PriceCents     int64     `json:"price_cents"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	CreatedAt      time.Time `json:"created_at"`
	IncludeInTotal bool      `json:"include_in_total"`
	AdminOverride  bool      `json:"admin_override"`
}

// ServiceEventMessage announces a change to one service. Deleted events carry
// the last known state so consumers can find the row to clear.
type ServiceEventMessage struct {
	ID        string          `json:"id"`
	Event     EventType       `json:"event"`
	Version   int64           `json:"version"`
	Service   ServiceSnapshot `json:"service"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewServiceEvent builds an event for s.
func NewServiceEvent(event EventType, s core.Service) *ServiceEventMessage {
	return &ServiceEventMessage{
		ID:      s.ID,
		Event:   event,
		Version: s.Version,
		Service: ServiceSnapshot{
			Title:          s.Title,
			ServiceType:    string(s.ServiceType),
			PriceCents:     s.Price.Cents,
			UserID:         s.UserID,
			Username:       s.Username,
			CreatedAt:      s.CreatedAt,
			IncludeInTotal: s.IncludeInTotal,
			AdminOverride:  s.AdminOverride,
		},
		Timestamp: time.Now(),
	}
}

// ToService rebuilds the record carried by the event.
func (m *ServiceEventMessage) ToService() core.Service {
	return core.Service{
		ID:             m.ID,
		Title:          m.Service.Title,
		ServiceType:    core.ServiceType(m.Service.ServiceType),
		Price:          core.Money{Cents: m.Service.PriceCents},
		UserID:         m.Service.UserID,
		Username:       m.Service.Username,
		CreatedAt:      m.Service.CreatedAt,
		IncludeInTotal: m.Service.IncludeInTotal,
		AdminOverride:  m.Service.AdminOverride,
		Version:        m.Version,
	}
}

// ToJSON converts the message to JSON bytes
func (m *ServiceEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ServiceEventMessageFromJSON decodes and checks a message body.
func ServiceEventMessageFromJSON(data []byte) (*ServiceEventMessage, error) {
	var msg ServiceEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("service event without id")
	}
	if !msg.Event.valid() {
		return nil, fmt.Errorf("unknown service event %q", msg.Event)
	}
	return &msg, nil
}
