package tool

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
)

//go:embed prices.json
var rawPrices []byte

// priceEntry is one (provider, action) price point.
type priceEntry struct {
	Unit       string  `json:"unit"`
	USDPerUnit float64 `json:"usd_per_unit"`
}

// priceBook is loaded once at init; the file ships with the binary so a
// load failure is a build defect, not a runtime condition.
var priceBook = func() map[string]map[string]priceEntry {
	var book map[string]map[string]priceEntry
	if err := json.Unmarshal(rawPrices, &book); err != nil {
		panic(fmt.Sprintf("embedded price book invalid: %v", err))
	}
	return book
}()

// EstimateCost looks up the static price book and extrapolates cost for
// the given number of units.
func EstimateCost(provider, action string, units float64) (map[string]any, error) {
	ent, ok := priceBook[provider][action]
	if !ok {
		return nil, fmt.Errorf("%w: no price mapping for %s.%s", ErrBadArguments, provider, action)
	}
	est := math.Round(ent.USDPerUnit*units*10000) / 10000
	return map[string]any{
		"estimated_cost_usd": est,
		"unit":               ent.Unit,
		"usd_per_unit":       ent.USDPerUnit,
		"source":             "static-pricebook",
	}, nil
}
