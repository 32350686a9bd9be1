package billing_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"wallcharge/pkg/billing"
	"wallcharge/pkg/fleet"
	"wallcharge/pkg/session"
)

func event(din string, start time.Time, energyWh float64) fleet.ChargeRecord {
	return fleet.ChargeRecord{
		Din:             din,
		ChargeStartTime: fleet.Timestamp{Seconds: start.Unix()},
		EnergyAddedWh:   energyWh,
	}
}

var _ = Describe("Aggregate", func() {
	var (
		sess *session.Session
		now  time.Time
	)

	BeforeEach(func() {
		sess = session.New("TESTKEY", session.NewMemoryStore(), "")
		Expect(sess.SetDefaultPrice("0.50")).To(Succeed())
		now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.Local)
	})

	thisMonth := func() billing.DateRange {
		return billing.RangeNamed("This Month", now)
	}

	Context("date range filtering", func() {
		It("includes the start boundary and excludes the end boundary", func() {
			r := thisMonth()
			events := []fleet.ChargeRecord{
				event("ABC123", r.Start, 1000),                      // exactly at start: in
				event("ABC123", r.Start.Add(-time.Second), 1000),    // before start: out
				event("ABC123", r.End, 1000),                        // exactly at end: out
				event("ABC123", r.End.Add(-time.Second), 1000),      // just inside: in
			}
			devices, err := billing.Aggregate(events, r, "", sess)
			Expect(err).NotTo(HaveOccurred())
			Expect(devices["ABC123"].Charges).To(HaveLen(2))
			Expect(devices["ABC123"].TotalEnergyWh).To(Equal(2000.0))
		})

		It("returns no devices when nothing falls in range", func() {
			r := thisMonth()
			devices, err := billing.Aggregate([]fleet.ChargeRecord{
				event("ABC123", r.Start.AddDate(0, -2, 0), 1000),
			}, r, "", sess)
			Expect(err).NotTo(HaveOccurred())
			Expect(devices).To(BeEmpty())
		})
	})

	Context("device filtering", func() {
		It("matches the din case-insensitively", func() {
			r := thisMonth()
			events := []fleet.ChargeRecord{
				event("ABC123", r.Start, 1000),
				event("XYZ789", r.Start, 2000),
			}
			devices, err := billing.Aggregate(events, r, "abc123", sess)
			Expect(err).NotTo(HaveOccurred())
			Expect(devices).To(HaveKey("ABC123"))
			Expect(devices).NotTo(HaveKey("XYZ789"))
		})
	})

	Context("pricing", func() {
		It("rounds each event cost to cents", func() {
			Expect(sess.SetDefaultPrice("0.30")).To(Succeed())
			r := thisMonth()
			devices, err := billing.Aggregate([]fleet.ChargeRecord{
				event("ABC123", r.Start, 15000),
			}, r, "", sess)
			Expect(err).NotTo(HaveOccurred())
			Expect(devices["ABC123"].Charges[0].Cost).To(Equal(4.50))
		})

		It("computes the device total from raw energy, not summed event costs", func() {
			Expect(sess.SetDefaultPrice("0.333")).To(Succeed())
			r := thisMonth()
			devices, err := billing.Aggregate([]fleet.ChargeRecord{
				event("ABC123", r.Start, 1000),
				event("ABC123", r.Start.Add(time.Hour), 1000),
				event("ABC123", r.Start.Add(2*time.Hour), 1000),
			}, r, "", sess)
			Expect(err).NotTo(HaveOccurred())

			device := devices["ABC123"]
			var summed float64
			for _, charge := range device.Charges {
				Expect(charge.Cost).To(Equal(0.33))
				summed += charge.Cost
			}
			Expect(summed).To(BeNumerically("~", 0.99, 1e-9))
			// 3000 Wh * 0.333 / 1000 = 0.999, which rounds up.
			Expect(device.TotalCost).To(Equal(1.00))
		})

		It("prefers the device override price", func() {
			Expect(sess.SetDevicePrice("ABC123", "0.10")).To(Succeed())
			r := thisMonth()
			devices, err := billing.Aggregate([]fleet.ChargeRecord{
				event("ABC123", r.Start, 1000),
				event("XYZ789", r.Start, 1000),
			}, r, "", sess)
			Expect(err).NotTo(HaveOccurred())
			Expect(devices["ABC123"].UnitPrice).To(Equal(0.10))
			Expect(devices["XYZ789"].UnitPrice).To(Equal(0.50))
		})

		It("re-resolves prices on every aggregation", func() {
			r := thisMonth()
			events := []fleet.ChargeRecord{event("ABC123", r.Start, 1000)}

			devices, err := billing.Aggregate(events, r, "", sess)
			Expect(err).NotTo(HaveOccurred())
			Expect(devices["ABC123"].TotalCost).To(Equal(0.50))

			// A price change applies without re-fetching the events.
			Expect(sess.SetDefaultPrice("1.00")).To(Succeed())
			devices, err = billing.Aggregate(events, r, "", sess)
			Expect(err).NotTo(HaveOccurred())
			Expect(devices["ABC123"].TotalCost).To(Equal(1.00))
		})

		It("fails when no price is configured", func() {
			bare := session.New("TESTKEY", session.NewMemoryStore(), "")
			r := thisMonth()
			_, err := billing.Aggregate([]fleet.ChargeRecord{
				event("ABC123", r.Start, 1000),
			}, r, "", bare)
			Expect(err).To(MatchError(session.ErrCorrupt))
		})
	})

	Context("nicknames", func() {
		It("falls back to the din", func() {
			Expect(sess.SetDeviceNickname("ABC123", "Garage")).To(Succeed())
			r := thisMonth()
			devices, err := billing.Aggregate([]fleet.ChargeRecord{
				event("ABC123", r.Start, 1000),
				event("XYZ789", r.Start, 1000),
			}, r, "", sess)
			Expect(err).NotTo(HaveOccurred())
			Expect(devices["ABC123"].Nickname).To(Equal("Garage"))
			Expect(devices["XYZ789"].Nickname).To(Equal("XYZ789"))
		})
	})

	It("produces the full report for a month of charging", func() {
		r := thisMonth()
		devices, err := billing.Aggregate([]fleet.ChargeRecord{
			event("ABC123", r.Start, 1000),
			event("ABC123", r.Start.Add(24*time.Hour), 2000),
		}, r, "", sess)
		Expect(err).NotTo(HaveOccurred())
		Expect(devices).To(HaveLen(1))

		device := devices["ABC123"]
		Expect(device.Charges).To(HaveLen(2))
		Expect(device.Charges[0].Cost).To(Equal(0.50))
		Expect(device.Charges[1].Cost).To(Equal(1.00))
		Expect(device.TotalEnergyWh).To(Equal(3000.0))
		Expect(device.TotalCost).To(Equal(1.50))
	})
})

var _ = Describe("Date range presets", func() {
	now := time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)

	It("defines the four presets against the current time", func() {
		presets := billing.Presets(now)
		Expect(presets).To(HaveLen(4))

		Expect(presets[0].Name).To(Equal("This Month"))
		Expect(presets[0].Start).To(Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
		Expect(presets[0].End).To(Equal(now))

		Expect(presets[1].Name).To(Equal("Last Month"))
		Expect(presets[1].Start).To(Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
		Expect(presets[1].End).To(Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

		Expect(presets[2].Name).To(Equal("This Year"))
		Expect(presets[2].Start).To(Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
		Expect(presets[2].End).To(Equal(now))

		Expect(presets[3].Name).To(Equal("Last Year"))
		Expect(presets[3].Start).To(Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
		Expect(presets[3].End).To(Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	})

	It("looks up names case-insensitively", func() {
		Expect(billing.RangeNamed("last month", now).Name).To(Equal("Last Month"))
		Expect(billing.RangeNamed("LAST YEAR", now).Name).To(Equal("Last Year"))
	})

	It("falls back to This Month for unknown names", func() {
		Expect(billing.RangeNamed("next month", now).Name).To(Equal("This Month"))
		Expect(billing.RangeNamed("", now).Name).To(Equal("This Month"))
	})
})
