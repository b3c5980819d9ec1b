package odoo

import (
	"fmt"
	"sort"
	"strings"
)

// FieldRule maps one source property onto an Odoo field. Source supports a
// single level of nesting with a dot path (e.g. "address.streetAddress");
// NGSI-LD Property envelopes are unwrapped before the path is applied.
type FieldRule struct {
	Field     string // Odoo field name
	Source    string // source property name or dot path
	Default   any    // used when the property is absent (nil leaves the field out)
	Stringify bool   // render the value with %v before writing
}

// ModelMapping describes how one external entity type lands in Odoo. Adding a
// synchronized type is a new entry here, not a new code path.
type ModelMapping struct {
	ErpModel  string
	Action    string // window action used for deep links
	Constants map[string]any
	Fields    []FieldRule
}

var modelMap = map[string]ModelMapping{
	"AgriParcel": {
		ErpModel:  "product.template",
		Action:    "product.product_template_action",
		Constants: map[string]any{"type": "product", "categ_id": 1},
		Fields: []FieldRule{
			{Field: "description", Source: "description"},
			{Field: "x_area", Source: "area"},
			{Field: "x_crop_type", Source: "cropType"},
			{Field: "x_location", Source: "location", Stringify: true},
		},
	},
	"Device": {
		ErpModel: "maintenance.equipment",
		Action:   "maintenance.hr_equipment_action",
		Fields: []FieldRule{
			{Field: "serial_no", Source: "serialNumber"},
			{Field: "note", Source: "description"},
			{Field: "x_device_type", Source: "deviceType"},
			{Field: "x_status", Source: "status"},
		},
	},
	"Building": {
		ErpModel:  "res.partner",
		Action:    "base.action_partner_form",
		Constants: map[string]any{"is_company": true},
		Fields: []FieldRule{
			{Field: "street", Source: "address.streetAddress"},
			{Field: "city", Source: "address.addressLocality"},
			{Field: "zip", Source: "address.postalCode"},
		},
	},
	"EnergyMeter": {
		ErpModel: "energy.meter",
		Action:   "energy_community.action_energy_meter",
		Fields: []FieldRule{
			{Field: "code", Source: "meterCode"},
			{Field: "meter_type", Source: "meterType", Default: "production"},
			{Field: "x_cups", Source: "cups"},
		},
	},
	"SolarPanel": {
		ErpModel:  "energy.installation",
		Action:    "energy_community.action_energy_installation",
		Constants: map[string]any{"installation_type": "solar"},
		Fields: []FieldRule{
			{Field: "power_peak", Source: "peakPower"},
			{Field: "x_orientation", Source: "orientation"},
			{Field: "x_tilt", Source: "tilt"},
		},
	},
	"WeatherStation": {
		ErpModel: "maintenance.equipment",
		Action:   "maintenance.hr_equipment_action",
		Fields: []FieldRule{
			{Field: "serial_no", Source: "serialNumber"},
			{Field: "note", Source: "description"},
		},
	},
}

// LookupModel resolves the mapping for an external entity type.
func LookupModel(externalType string) (ModelMapping, bool) {
	m, ok := modelMap[externalType]
	return m, ok
}

// SyncedTypes returns the synchronized entity types in stable order.
func SyncedTypes() []string {
	types := make([]string, 0, len(modelMap))
	for t := range modelMap {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Transform turns an external entity payload into Odoo record values. The
// record name falls back to the external id and the external id is always
// written to x_ngsi_id so records stay traceable from inside Odoo.
func (m ModelMapping) Transform(externalID string, payload map[string]any) map[string]any {
	values := map[string]any{
		"name":      externalID,
		"x_ngsi_id": externalID,
	}
	if name, ok := PropertyValue(payload, "name"); ok {
		values["name"] = fmt.Sprintf("%v", name)
	}

	for k, v := range m.Constants {
		values[k] = v
	}

	for _, rule := range m.Fields {
		v, ok := PropertyValue(payload, rule.Source)
		if !ok {
			if rule.Default != nil {
				values[rule.Field] = rule.Default
			}
			continue
		}
		if rule.Stringify {
			v = fmt.Sprintf("%v", v)
		}
		values[rule.Field] = v
	}

	return values
}

// DisplayName extracts the human-readable name a Transform result carries.
func DisplayName(values map[string]any) string {
	if name, ok := values["name"].(string); ok {
		return name
	}
	return ""
}

// PropertyValue reads a property from an external entity payload, unwrapping
// the NGSI-LD Property envelope ({"value": ...} or {"@value": ...}) at each
// step of an optional dot path.
func PropertyValue(payload map[string]any, path string) (any, bool) {
	parts := strings.SplitN(path, ".", 2)

	raw, ok := payload[parts[0]]
	if !ok || raw == nil {
		return nil, false
	}
	value := unwrap(raw)

	if len(parts) == 1 {
		return value, value != nil
	}

	nested, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	return PropertyValue(nested, parts[1])
}

func unwrap(raw any) any {
	obj, ok := raw.(map[string]any)
	if !ok {
		return raw
	}
	if v, ok := obj["value"]; ok {
		return v
	}
	if v, ok := obj["@value"]; ok {
		return v
	}
	return obj
}

// DeepLink builds the URL that opens one record in the tenant's Odoo UI.
func DeepLink(instanceURL, model string, recordID int) string {
	action := ""
	for _, m := range modelMap {
		if m.ErpModel == model {
			action = m.Action
			break
		}
	}
	return fmt.Sprintf("%s/web#id=%d&model=%s&action=%s&view_type=form",
		strings.TrimSuffix(instanceURL, "/"), recordID, model, action)
}
