package epidemic

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/irfndi/covid-pulse-go/internal/models"
)

// ISODateLayout is the calendar date format of JSON documents.
const ISODateLayout = "2006-01-02"

var isoLayouts = []string{
	ISODateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// ParseISODate parses YYYY-MM-DD with an optional time of day. A missing time
// defaults to midnight UTC.
func ParseISODate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, NewParseErrorf("invalid ISO date %q", s)
}

// FormatISODate formats t as YYYY-MM-DD.
func FormatISODate(t time.Time) string {
	return t.Format(ISODateLayout)
}

// documentWire decodes count arrays as pointers so that a null count can be
// told apart from zero.
type documentWire struct {
	models.CountryDocument
	Total     []*int64 `json:"total"`
	Active    []*int64 `json:"active"`
	Deaths    []*int64 `json:"deaths"`
	Recovered []*int64 `json:"recovered"`
}

// ParseCountryDocument decodes a per-country JSON document. Unlike the
// delimited form there is no row to drop, so any malformed value fails the
// whole document.
func ParseCountryDocument(data []byte) (*models.CountryDocument, error) {
	var wire documentWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, wrapErrorf(ErrParse, err, "decode country document")
	}

	doc := wire.CountryDocument
	if strings.TrimSpace(doc.Country) == "" {
		return nil, NewParseErrorf("country document without country")
	}

	var err error
	if doc.Total, err = strictCounts("total", wire.Total); err != nil {
		return nil, err
	}
	if doc.Active, err = strictCounts("active", wire.Active); err != nil {
		return nil, err
	}
	if doc.Deaths, err = strictCounts("deaths", wire.Deaths); err != nil {
		return nil, err
	}
	if doc.Recovered, err = strictCounts("recovered", wire.Recovered); err != nil {
		return nil, err
	}

	for _, d := range doc.Dates {
		if _, err := ParseISODate(d); err != nil {
			return nil, err
		}
	}
	if doc.FirstDate != "" {
		if _, err := ParseISODate(doc.FirstDate); err != nil {
			return nil, err
		}
	}
	if doc.Predicted != nil && doc.Predicted.SIR != nil && doc.Predicted.SIR.FromDate != "" {
		if _, err := ParseISODate(doc.Predicted.SIR.FromDate); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}

func strictCounts(field string, values []*int64) ([]int64, error) {
	if values == nil {
		return nil, nil
	}
	out := make([]int64, len(values))
	for i, v := range values {
		if v == nil {
			return nil, NewParseErrorf("%s[%d] is null", field, i)
		}
		if *v < 0 {
			return nil, NewParseErrorf("%s[%d] is negative: %d", field, i, *v)
		}
		out[i] = *v
	}
	return out, nil
}

// DocumentDates returns the date axis of doc. Documents written without an
// explicit dates array count one day per entry from first_date.
func DocumentDates(doc *models.CountryDocument) ([]time.Time, error) {
	if len(doc.Dates) > 0 {
		dates := make([]time.Time, len(doc.Dates))
		for i, s := range doc.Dates {
			d, err := ParseISODate(s)
			if err != nil {
				return nil, err
			}
			dates[i] = d
		}
		return dates, nil
	}
	if doc.FirstDate == "" {
		return nil, NewParseErrorf("country %q has neither dates nor first_date", doc.Country)
	}
	first, err := ParseISODate(doc.FirstDate)
	if err != nil {
		return nil, err
	}
	dates := make([]time.Time, len(doc.Active))
	for i := range dates {
		dates[i] = first.AddDate(0, 0, i)
	}
	return dates, nil
}

// DocumentSeries rebuilds the entity series of a document. Confirmed is the
// total array when present, otherwise active + deaths + recovered.
func DocumentSeries(doc *models.CountryDocument) (*EntitySeries, error) {
	dates, err := DocumentDates(doc)
	if err != nil {
		return nil, err
	}
	n := len(doc.Active)
	if len(doc.Deaths) != n || len(doc.Recovered) != n {
		return nil, NewShapeMismatchf("country %q: active=%d deaths=%d recovered=%d",
			doc.Country, n, len(doc.Deaths), len(doc.Recovered))
	}

	confirmed := doc.Total
	if len(confirmed) == 0 {
		confirmed = make([]int64, n)
		for i := range confirmed {
			confirmed[i] = doc.Active[i] + doc.Deaths[i] + doc.Recovered[i]
		}
	}

	series := &EntitySeries{
		Entity:    doc.Country,
		Dates:     dates,
		Confirmed: append([]int64(nil), confirmed...),
		Deaths:    append([]int64(nil), doc.Deaths...),
		Recovered: append([]int64(nil), doc.Recovered...),
	}
	if err := series.Validate(); err != nil {
		return nil, err
	}
	return series, nil
}

// DocumentSIRParameters returns the fitted SIR rates of doc. ok is false when
// the document carries none.
func DocumentSIRParameters(doc *models.CountryDocument) (params SIRParameters, ok bool) {
	if !doc.HasSIR() {
		return SIRParameters{}, false
	}
	sir := doc.Predicted.SIR
	return SIRParameters{
		S: SIRRates(sir.S),
		I: SIRRates(sir.I),
		R: SIRRates(sir.R),
	}, true
}

// NewSIRPrediction converts fitted rates to their document form.
func NewSIRPrediction(from time.Time, params SIRParameters) *models.SIRPrediction {
	return &models.SIRPrediction{
		FromDate: FormatISODate(from),
		S:        models.RateParams(params.S),
		I:        models.RateParams(params.I),
		R:        models.RateParams(params.R),
	}
}
