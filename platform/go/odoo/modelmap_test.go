package odoo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupModelCoversSyncedTypes(t *testing.T) {
	require.Equal(t,
		[]string{"AgriParcel", "Building", "Device", "EnergyMeter", "SolarPanel", "WeatherStation"},
		SyncedTypes(),
	)

	m, ok := LookupModel("AgriParcel")
	require.True(t, ok)
	require.Equal(t, "product.template", m.ErpModel)

	_, ok = LookupModel("Tractor")
	require.False(t, ok)
}

func TestTransformAgriParcel(t *testing.T) {
	m, _ := LookupModel("AgriParcel")

	payload := map[string]any{
		"name":     map[string]any{"value": "Field A"},
		"area":     map[string]any{"value": 12.5},
		"cropType": "wheat",
		"location": map[string]any{"value": map[string]any{"type": "Point"}},
	}

	values := m.Transform("urn:ngsi-ld:AgriParcel:42", payload)

	require.Equal(t, "Field A", values["name"])
	require.Equal(t, "urn:ngsi-ld:AgriParcel:42", values["x_ngsi_id"])
	require.Equal(t, "product", values["type"])
	require.Equal(t, 12.5, values["x_area"])
	require.Equal(t, "wheat", values["x_crop_type"])
	require.IsType(t, "", values["x_location"], "location is stringified")
	require.NotContains(t, values, "description")
}

func TestTransformNameFallsBackToExternalID(t *testing.T) {
	m, _ := LookupModel("Device")

	values := m.Transform("urn:ngsi-ld:Device:7", map[string]any{
		"serialNumber": map[string]any{"@value": "SN-1001"},
	})

	require.Equal(t, "urn:ngsi-ld:Device:7", values["name"])
	require.Equal(t, "SN-1001", values["serial_no"])
}

func TestTransformDefaultsAndNestedPaths(t *testing.T) {
	meter, _ := LookupModel("EnergyMeter")
	values := meter.Transform("urn:ngsi-ld:EnergyMeter:1", map[string]any{})
	require.Equal(t, "production", values["meter_type"], "default applies when property missing")

	building, _ := LookupModel("Building")
	values = building.Transform("urn:ngsi-ld:Building:1", map[string]any{
		"address": map[string]any{
			"value": map[string]any{
				"streetAddress":   "Kale Nagusia 1",
				"addressLocality": "Donostia",
				"postalCode":      "20001",
			},
		},
	})
	require.Equal(t, true, values["is_company"])
	require.Equal(t, "Kale Nagusia 1", values["street"])
	require.Equal(t, "Donostia", values["city"])
	require.Equal(t, "20001", values["zip"])
}

func TestTransformIdempotentForSamePayload(t *testing.T) {
	m, _ := LookupModel("SolarPanel")
	payload := map[string]any{"peakPower": map[string]any{"value": 5.2}}

	first := m.Transform("urn:ngsi-ld:SolarPanel:1", payload)
	second := m.Transform("urn:ngsi-ld:SolarPanel:1", payload)
	require.Equal(t, first, second)
}

func TestDeepLink(t *testing.T) {
	url := DeepLink("https://tenant-1.odoo.nekazari.example/", "product.template", 42)
	require.Equal(t,
		"https://tenant-1.odoo.nekazari.example/web#id=42&model=product.template&action=product.product_template_action&view_type=form",
		url,
	)

	// Unknown models still produce a usable link with an empty action.
	url = DeepLink("https://t.example", "account.move", 7)
	require.Equal(t, "https://t.example/web#id=7&model=account.move&action=&view_type=form", url)
}
