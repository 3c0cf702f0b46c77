package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"twin-gateway/internal/models"
)

var (
	ErrUnknownTopic   = errors.New("unknown topic")
	ErrInvalidPayload = errors.New("invalid payload")
)

// UnknownAssetID is used when neither topic nor payload names an asset.
const UnknownAssetID = "unknown"

// Kind classifies a routed event.
type Kind string

const (
	KindTelemetry  Kind = "telemetry"
	KindAlert      Kind = "alert"
	KindStatus     Kind = "status"
	KindCommandAck Kind = "command_ack"
)

var categories = map[string]Kind{
	"telemetry": KindTelemetry,
	"alerts":    KindAlert,
	"status":    KindStatus,
	"commands":  KindCommandAck,
}

// Categories lists the topic categories in subscription order.
var Categories = []string{"telemetry", "alerts", "status", "commands"}

// RouteError wraps ErrUnknownTopic or ErrInvalidPayload with the topic.
type RouteError struct {
	Topic string
	Err   error
	Cause error
}

func (e *RouteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("route %s: %v: %v", e.Topic, e.Err, e.Cause)
	}
	return fmt.Sprintf("route %s: %v", e.Topic, e.Err)
}

func (e *RouteError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// RoutedEvent is a decoded inbound message. Exactly one of the payload
// pointers is set, matching Kind.
type RoutedEvent struct {
	Kind    Kind
	Topic   string
	AssetID string

	Telemetry  *models.TelemetryEvent
	Alert      *models.AlertEvent
	Status     *models.StatusEvent
	CommandAck *models.CommandAck
}

// Router classifies broker messages. The zero value uses time.Now.
type Router struct {
	now func() time.Time
}

// New returns a Router.
func New() *Router {
	return &Router{now: time.Now}
}

// Route classifies topic and decodes payload.
func (r *Router) Route(topic string, payload []byte) (RoutedEvent, error) {
	kind, ok := Classify(topic)
	if !ok {
		return RoutedEvent{}, &RouteError{Topic: topic, Err: ErrUnknownTopic}
	}
	if !json.Valid(payload) {
		return RoutedEvent{}, &RouteError{Topic: topic, Err: ErrInvalidPayload}
	}

	now := time.Now
	if r != nil && r.now != nil {
		now = r.now
	}
	assetID := ResolveAssetID(topic, payload)
	out := RoutedEvent{Kind: kind, Topic: topic, AssetID: assetID}

	var err error
	switch kind {
	case KindTelemetry:
		var ev models.TelemetryEvent
		ev, err = models.DecodeTelemetry(payload, assetID, now().UTC())
		out.Telemetry = &ev
	case KindAlert:
		var a models.AlertEvent
		a, err = models.DecodeAlert(payload, assetID, now().UTC())
		out.Alert = &a
	case KindStatus:
		var s models.StatusEvent
		s, err = models.DecodeStatus(payload, assetID)
		out.Status = &s
	case KindCommandAck:
		var c models.CommandAck
		c, err = models.DecodeCommandAck(payload, assetID)
		out.CommandAck = &c
	}
	if err != nil {
		return RoutedEvent{}, &RouteError{Topic: topic, Err: ErrInvalidPayload, Cause: err}
	}
	return out, nil
}

// Classify matches the category segment of topic. The category is the second
// segment of <domain>/<category>/<assetId>; for shorter or longer topics any
// segment naming a category is accepted.
func Classify(topic string) (Kind, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		if k, ok := categories[parts[1]]; ok {
			return k, true
		}
	}
	for _, p := range parts {
		if k, ok := categories[p]; ok {
			return k, true
		}
	}
	return "", false
}

// ResolveAssetID picks the third topic segment, then the payload's asset_id,
// then UnknownAssetID.
func ResolveAssetID(topic string, payload []byte) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 && parts[2] != "" {
		return parts[2]
	}
	var probe struct {
		AssetID string `json:"asset_id"`
	}
	if err := json.Unmarshal(payload, &probe); err == nil && probe.AssetID != "" {
		return probe.AssetID
	}
	return UnknownAssetID
}

// Topic builds <prefix>/<category>/<assetID>.
func Topic(prefix, category, assetID string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + category + "/" + assetID
}

// SubscriptionTopics returns the wildcard subscription for every category.
func SubscriptionTopics(prefix string) []string {
	out := make([]string, 0, len(Categories))
	for _, c := range Categories {
		out = append(out, Topic(prefix, c, "+"))
	}
	return out
}
