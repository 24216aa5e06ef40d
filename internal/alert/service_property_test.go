package alert

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"marketpulse/internal/models"
	"marketpulse/internal/store"
)

// Property: however prices oscillate around the target, an alert is
// delivered exactly once if any price crossed it and never otherwise.
func TestProperty_SingleDeliveryUnderOscillation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	dir := t.TempDir()
	run := 0

	properties.Property("at most one delivery per alert", prop.ForAll(
		func(above bool, target float64, offsets []float64) bool {
			run++
			st, err := store.NewSQLiteStore(filepath.Join(dir, fmt.Sprintf("prop-%d.db", run)))
			if err != nil {
				t.Logf("open store: %v", err)
				return false
			}
			defer st.Close()

			d := &countingDeliverer{}
			svc := NewService(st, d)
			ctx := context.Background()

			cond := models.ConditionBelow
			if above {
				cond = models.ConditionAbove
			}
			if _, err := svc.CreateAlert(ctx, "owner", "BTC", cond, target); err != nil {
				return false
			}

			crossed := false
			for _, off := range offsets {
				price := target + off
				if price <= 0 {
					continue
				}
				if cond.Crossed(price, target) {
					crossed = true
				}
				svc.Evaluate(ctx, "BTC", price)
			}

			want := int32(0)
			if crossed {
				want = 1
			}
			return d.calls.Load() == want
		},
		gen.Bool(),
		gen.Float64Range(1, 100000),
		gen.SliceOfN(12, gen.Float64Range(-50, 50)),
	))

	properties.Property("the target price itself fires both directions", prop.ForAll(
		func(target float64) bool {
			return models.ConditionAbove.Crossed(target, target) &&
				models.ConditionBelow.Crossed(target, target)
		},
		gen.Float64Range(0.000001, 1e9),
	))

	properties.TestingRun(t)
}
