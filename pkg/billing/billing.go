// Package billing turns a charge-history snapshot into per-device cost
// reports. Aggregates are recomputed on every query and never persisted, so
// pricing and nickname changes take effect immediately, even against a
// cached snapshot.
package billing

import (
	"math"
	"strings"
	"time"

	"wallcharge/pkg/fleet"
)

// PriceSource resolves display pricing and naming for devices. Satisfied by
// *session.Session.
type PriceSource interface {
	// UnitPrice returns the per-kWh price for din: a device-specific
	// override if configured, otherwise the user's default price.
	UnitPrice(din string) (float64, error)
	// Nickname returns the configured display name for din, or din itself.
	Nickname(din string) string
}

// Charge is a charge event decorated with its start time and attributed
// cost. The source record is embedded unmodified.
type Charge struct {
	fleet.ChargeRecord
	Start time.Time
	Cost  float64
}

// DeviceAggregate is the per-device report for one query.
type DeviceAggregate struct {
	Din           string
	Nickname      string
	UnitPrice     float64
	Charges       []Charge
	TotalEnergyWh float64
	TotalCost     float64
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Aggregate groups events by device, keeping those whose start time falls in
// [r.Start, r.End) and, when deviceFilter is non-empty, whose din matches it
// case-insensitively.
//
// Each event's cost is round(energy_added_wh/1000*price, 2). The device
// total cost is round(total_energy_wh*price/1000, 2), computed from the raw
// energy total rather than by summing the rounded per-event costs. The two
// can drift apart by rounding error; the independent computation is the
// historical behavior and is kept deliberately.
func Aggregate(events []fleet.ChargeRecord, r DateRange, deviceFilter string, prices PriceSource) (map[string]*DeviceAggregate, error) {
	devices := make(map[string]*DeviceAggregate)
	for _, event := range events {
		if deviceFilter != "" && !strings.EqualFold(event.Din, deviceFilter) {
			continue
		}
		start := event.ChargeStartTime.Time()
		if start.Before(r.Start) || !start.Before(r.End) {
			continue
		}

		device, ok := devices[event.Din]
		if !ok {
			price, err := prices.UnitPrice(event.Din)
			if err != nil {
				return nil, err
			}
			device = &DeviceAggregate{
				Din:       event.Din,
				Nickname:  prices.Nickname(event.Din),
				UnitPrice: price,
			}
			devices[event.Din] = device
		}
		device.Charges = append(device.Charges, Charge{
			ChargeRecord: event,
			Start:        start,
			Cost:         round2(event.EnergyAddedWh / 1000 * device.UnitPrice),
		})
		device.TotalEnergyWh += event.EnergyAddedWh
	}

	for _, device := range devices {
		device.TotalCost = round2(device.TotalEnergyWh * device.UnitPrice / 1000)
	}
	return devices, nil
}
