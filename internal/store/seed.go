package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/fleetwire/fleetrelay/internal/message"
)

// Seed loads the reference template set for development deployments.
// Existing active templates keep precedence: a conflict on one key skips
// that template instead of failing the whole seed.
func Seed(ctx context.Context, s Store) error {
	for _, v := range seedVariables() {
		variable := v
		if err := s.PutVariable(ctx, &variable); err != nil {
			return fmt.Errorf("seeding variable %s: %w", v.VariableName, err)
		}
	}

	for _, tmpl := range seedTemplates() {
		t := tmpl
		if err := s.CreateTemplate(ctx, &t); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return fmt.Errorf("seeding template %s/%s: %w", t.EventType, t.LanguageCode, err)
		}
	}
	return nil
}

func seedVariables() []message.TemplateVariable {
	return []message.TemplateVariable{
		{
			EventType:    "route.assigned",
			VariableName: "{{route_name}}",
			DataPath:     "data.route.name",
			DefaultValue: "your route",
		},
		{
			EventType:    "route.assigned",
			VariableName: "{{pickup_location}}",
			DataPath:     "data.route.stops.0.location",
			DefaultValue: "Pickup location",
		},
		{
			EventType:    "route.assigned",
			VariableName: "{{pickup_time}}",
			DataPath:     "data.route.stops.0.scheduledTime",
			DefaultValue: "TBD",
		},
		{
			EventType:    "route.assigned",
			VariableName: "{{delivery_location}}",
			DataPath:     "data.route.stops.1.location",
			DefaultValue: "Delivery location",
		},
		{
			EventType:    "vehicle.geofence.enter",
			VariableName: "{{vehicle_name}}",
			DataPath:     "data.vehicle.name",
			DefaultValue: "Your vehicle",
		},
		{
			EventType:    "vehicle.geofence.enter",
			VariableName: "{{geofence_name}}",
			DataPath:     "data.geofence.name",
			DefaultValue: "a designated area",
		},
		{
			EventType:    "driver.safety.alert",
			VariableName: "{{alert_type}}",
			DataPath:     "data.alert.type",
			DefaultValue: "safety event",
		},
	}
}

func seedTemplates() []message.Template {
	return []message.Template{
		{
			EventType:    "route.assigned",
			LanguageCode: "ENG",
			Kind:         message.KindInteractive,
			Header:       "🚛 New Route Assigned",
			Body:         "Route: {{route_name}}\nPickup: {{pickup_location}} at {{pickup_time}}\nDelivery: {{delivery_location}}",
			Footer:       "Reply to confirm",
			Category:     "transport",
			Priority:     1,
			IsActive:     true,
			Responses: []message.ResponseOption{
				{
					ButtonText:    "Acknowledge Route",
					ButtonPayload: "acknowledge_route",
					ButtonType:    message.ButtonReply,
					SortOrder:     1,
				},
				{
					ButtonText:    "View Details",
					ButtonPayload: "view_details",
					ButtonType:    message.ButtonReply,
					SortOrder:     2,
				},
			},
		},
		{
			EventType:    "route.assigned",
			LanguageCode: "SPA",
			Kind:         message.KindInteractive,
			Header:       "🚛 Nueva Ruta Asignada",
			Body:         "Ruta: {{route_name}}\nRecogida: {{pickup_location}} a las {{pickup_time}}\nEntrega: {{delivery_location}}",
			Footer:       "Responde para confirmar",
			Category:     "transport",
			Priority:     1,
			IsActive:     true,
			Responses: []message.ResponseOption{
				{
					ButtonText:    "Confirmar Ruta",
					ButtonPayload: "acknowledge_route",
					ButtonType:    message.ButtonReply,
					SortOrder:     1,
				},
				{
					ButtonText:    "Ver Detalles",
					ButtonPayload: "view_details",
					ButtonType:    message.ButtonReply,
					SortOrder:     2,
				},
			},
		},
		{
			EventType:    "vehicle.geofence.enter",
			LanguageCode: "ENG",
			Kind:         message.KindInteractive,
			Body:         "{{vehicle_name}} entered {{geofence_name}}.",
			Category:     "transport",
			Priority:     1,
			IsActive:     true,
			Responses: []message.ResponseOption{
				{
					ButtonText:    "Confirm Arrival",
					ButtonPayload: "confirm_arrival",
					ButtonType:    message.ButtonReply,
					SortOrder:     1,
				},
				{
					ButtonText:    "Start Loading",
					ButtonPayload: "start_loading",
					ButtonType:    message.ButtonReply,
					SortOrder:     2,
					DisplayConditions: map[string]string{
						"data.geofence.type": "pickup_location",
					},
				},
				{
					ButtonText:    "Start Unloading",
					ButtonPayload: "start_unloading",
					ButtonType:    message.ButtonReply,
					SortOrder:     2,
					DisplayConditions: map[string]string{
						"data.geofence.type": "delivery_location",
					},
				},
			},
		},
		{
			EventType:    "driver.safety.alert",
			LanguageCode: "ENG",
			Kind:         message.KindText,
			Body:         "⚠️ Safety alert: {{alert_type}}. Please review and drive safely.",
			Category:     "safety",
			Priority:     1,
			IsActive:     true,
		},
	}
}
