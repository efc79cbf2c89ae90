package testkit

import (
	"fmt"

	"github.com/snow-ghost/fuzzyeval/food"
)

// Sample is one row of the food dataset.
type Sample struct {
	Taste       float64 `json:"taste"`
	Spiciness   float64 `json:"spiciness"`
	Temperature float64 `json:"temperature"`
	Sweetness   float64 `json:"sweetness"`
}

// Inputs returns the sample as a crisp input vector.
func (s Sample) Inputs() map[string]float64 {
	return food.Inputs(s.Taste, s.Spiciness, s.Temperature, s.Sweetness)
}

func (s Sample) String() string {
	return fmt.Sprintf("taste=%g spiciness=%g temperature=%g sweetness=%g", s.Taste, s.Spiciness, s.Temperature, s.Sweetness)
}

// SampleDataset returns the ten reference food rows.
func SampleDataset() []Sample {
	return []Sample{
		{3, 2, 1, 4},
		{7, 5, 4, 8},
		{8, 7, 6, 9},
		{4, 3, 2, 5},
		{6, 4, 3, 7},
		{9, 8, 7, 9},
		{2, 1, 1, 3},
		{5, 4, 3, 6},
		{8, 6, 5, 9},
		{6, 5, 4, 7},
	}
}

// sampleUsefulness holds the centroid scores of SampleDataset, row for row.
var sampleUsefulness = []float64{
	50,
	56.41680961302367,
	47.52386143085185,
	50,
	45.809992333614424,
	49.330421526198194,
	50,
	47.936756486232504,
	53.92805755395683,
	47.38191265619198,
}

// SampleCases pairs SampleDataset with its expected usefulness under the
// default food model.
func SampleCases() []Case {
	samples := SampleDataset()
	cases := make([]Case, len(samples))
	for i, s := range samples {
		cases[i] = Case{
			Name:   fmt.Sprintf("sample_%02d", i+1),
			Inputs: s.Inputs(),
			Want:   map[string]float64{food.Usefulness: sampleUsefulness[i]},
		}
	}
	return cases
}

// FoodCases covers the corners of the default food model.
func FoodCases() []Case {
	return []Case{
		{
			Name:   "tasty_mild_warm",
			Inputs: food.Inputs(8, 3, 6, 4),
			Want:   map[string]float64{food.Usefulness: 50},
		},
		{
			Name:   "bland_spicy_cold_sweet",
			Inputs: food.Inputs(2, 8, 2, 9),
			Want:   map[string]float64{food.Usefulness: 41.333333347515754},
		},
		{
			Name:   "all_zero",
			Inputs: food.Inputs(0, 0, 0, 0),
			Want:   map[string]float64{food.Usefulness: 23.092218687687645},
		},
		{
			Name:   "all_mid",
			Inputs: food.Inputs(5, 5, 5, 5),
			Want:   map[string]float64{food.Usefulness: 50.00000000000001},
		},
		{
			Name:   "great_plain_hot",
			Inputs: food.Inputs(10, 0, 8, 0),
			Want:   map[string]float64{food.Usefulness: 83.66666487968241},
		},
		{
			Name:        "scalding",
			Inputs:      food.Inputs(0, 0, 100, 0),
			NoRuleFired: []string{food.Usefulness},
		},
		{
			Name:   "no_sweetness",
			Inputs: map[string]float64{food.Taste: 8, food.Spiciness: 3, food.Temperature: 6},
			Error:  ErrorMissingInput,
		},
	}
}
