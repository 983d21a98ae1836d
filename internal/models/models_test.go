package models

import (
	"encoding/json"
	"testing"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountryDocument_HasSIR(t *testing.T) {
	tests := []struct {
		name string
		doc  CountryDocument
		want bool
	}{
		{"no prediction", CountryDocument{}, false},
		{"exponential only", CountryDocument{Predicted: &Prediction{DoublingRate: null.FloatFrom(3)}}, false},
		{"fitted", CountryDocument{Predicted: &Prediction{SIR: &SIRPrediction{FromDate: "2020-03-03"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.doc.HasSIR())
		})
	}
}

func TestCountryList_Contains(t *testing.T) {
	list := CountryList{"Germany": {Flag: "de.png", Population: 83019200}}
	assert.True(t, list.Contains("Germany"))
	assert.False(t, list.Contains("germany"))
	assert.False(t, CountryList(nil).Contains("Germany"))
}

func TestCountryDocument_JSONNulls(t *testing.T) {
	doc := CountryDocument{
		Country:       "Italy",
		FirstDate:     "2020-03-01",
		Active:        []int64{1, 2},
		Deaths:        []int64{0, 0},
		Recovered:     []int64{0, 0},
		DoublingRates: []null.Float{{}, null.FloatFrom(1)},
		Predicted: &Prediction{
			SIR: &SIRPrediction{FromDate: "2020-03-01", S: RateParams{Beta: 0.3, Gamma: 0.1}},
		},
	}

	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Nil(t, generic["population"])
	assert.Equal(t, []interface{}{nil, 1.0}, generic["doubling_rates"])
	assert.NotContains(t, generic, "latest")

	predicted := generic["predicted"].(map[string]interface{})
	assert.Contains(t, predicted, "SIR")
	assert.Nil(t, predicted["doubling_rate"])
}

func TestDashboardView_EmptySIR(t *testing.T) {
	raw, err := json.Marshal(DashboardView{Country: "Chile"})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"sir":null`)
	assert.NotContains(t, string(raw), `"predicted"`)
}
