// Package fleet normalizes webhook payloads from fleet management platforms
// into the canonical event shape the template engine consumes.
package fleet

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/fleetwire/fleetrelay/internal/message"
)

// Supported providers.
const (
	ProviderSamsara = "samsara"
	ProviderMotive  = "motive"
	ProviderGeotab  = "geotab"
)

var validate = validator.New()

// normalized is validated before an event leaves this package.
type normalized struct {
	Provider  string `validate:"required,oneof=samsara motive geotab"`
	EventType string `validate:"required"`
}

// samsaraEnvelope is the Samsara webhook body.
// Reference: https://developers.samsara.com/docs/webhooks
type samsaraEnvelope struct {
	EventID   string                 `json:"eventId"`
	EventTime string                 `json:"eventTime"`
	EventType string                 `json:"eventType"`
	Data      map[string]interface{} `json:"data"`
}

// motiveEnvelope is the Motive (KeepTruckin) webhook body.
type motiveEnvelope struct {
	Action  string                 `json:"action"`
	Payload map[string]interface{} `json:"payload"`
}

// geotabEnvelope is the Geotab notification body.
type geotabEnvelope struct {
	Type   string                 `json:"type"`
	Entity map[string]interface{} `json:"entity"`
}

// Normalize decodes a provider webhook body into a canonical event. The
// payload stays opaque beyond the envelope fields; nested data is handed to
// the compiler as decoded JSON.
func Normalize(provider string, body []byte) (message.Event, error) {
	var event message.Event

	switch provider {
	case ProviderSamsara:
		var env samsaraEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return event, fmt.Errorf("decoding samsara webhook: %w", err)
		}
		event = message.Event{EventType: env.EventType, Data: env.Data}

	case ProviderMotive:
		var env motiveEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return event, fmt.Errorf("decoding motive webhook: %w", err)
		}
		event = message.Event{EventType: env.Action, Data: env.Payload}

	case ProviderGeotab:
		var env geotabEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return event, fmt.Errorf("decoding geotab webhook: %w", err)
		}
		event = message.Event{EventType: env.Type, Data: env.Entity}

	default:
		return event, fmt.Errorf("unknown fleet provider %q", provider)
	}

	n := normalized{Provider: provider, EventType: event.EventType}
	if err := validate.Struct(n); err != nil {
		return event, fmt.Errorf("invalid %s event: %w", provider, err)
	}
	if event.Data == nil {
		event.Data = map[string]interface{}{}
	}
	return event, nil
}

// driverPhonePaths are the payload locations checked, in order, for the
// driver's chat number. Providers place driver contact details differently.
var driverPhonePaths = []string{
	"data.driver.phone",
	"data.driver.phoneNumber",
	"data.vehicle.driver.phone",
}

// driverLanguagePaths locate the driver's preferred message language.
var driverLanguagePaths = []string{
	"data.driver.language",
	"data.driver.locale",
}

// DriverPhone extracts the driver's phone number from the event payload.
// Returns empty when the event carries no reachable driver.
func DriverPhone(event message.Event) string {
	root := event.PayloadRoot()
	for _, path := range driverPhonePaths {
		if v, ok := message.Lookup(root, path); ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// DriverLanguage extracts the driver's preferred language code, or returns
// fallback when the event does not declare one.
func DriverLanguage(event message.Event, fallback string) string {
	root := event.PayloadRoot()
	for _, path := range driverLanguagePaths {
		if v, ok := message.Lookup(root, path); ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return fallback
}
