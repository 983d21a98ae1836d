package epidemic

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"

	"github.com/irfndi/covid-pulse-go/internal/models"
)

// TableDateLayout is the date format of the time-series header row.
const TableDateLayout = "1/2/06"

// tableMetaColumns is the number of leading columns before the first date:
// province, country, latitude and longitude.
const tableMetaColumns = 4

// latestColumns is the minimum width of a latest-snapshot row.
const latestColumns = 8

// TableRow is one data row of a time-series table.
type TableRow struct {
	Province string
	Country  string
	Lat      null.Float
	Lon      null.Float
	Counts   []int64
}

// Table is a parsed cumulative time-series table.
type Table struct {
	Dates []time.Time
	Rows  []TableRow
	// Dropped counts data rows skipped because they were malformed.
	Dropped int
}

// ParseTimeSeriesTable reads a delimited table whose header holds four
// metadata columns followed by one date per column.
//
// A header that cannot be read as a date sequence fails the whole payload.
// Data rows without a country name, with the wrong number of columns or with
// a non-numeric or negative count are dropped and counted in Table.Dropped.
func ParseTimeSeriesTable(r io.Reader) (*Table, error) {
	reader := newCSVReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, wrapErrorf(ErrParse, err, "read header")
	}
	if len(header) <= tableMetaColumns {
		return nil, NewParseErrorf("header has %d columns, need at least %d", len(header), tableMetaColumns+1)
	}

	dates := make([]time.Time, 0, len(header)-tableMetaColumns)
	for _, field := range header[tableMetaColumns:] {
		d, err := time.Parse(TableDateLayout, strings.TrimSpace(field))
		if err != nil {
			return nil, wrapErrorf(ErrParse, err, "header date %q", field)
		}
		dates = append(dates, d)
	}

	table := &Table{Dates: dates}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				table.Dropped++
				continue
			}
			return nil, wrapErrorf(ErrParse, err, "read row")
		}

		row, ok := parseTableRow(record, len(header))
		if !ok {
			table.Dropped++
			continue
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func parseTableRow(record []string, width int) (TableRow, bool) {
	if len(record) != width {
		return TableRow{}, false
	}
	country := strings.TrimSpace(record[1])
	if country == "" {
		return TableRow{}, false
	}

	row := TableRow{
		Province: strings.TrimSpace(record[0]),
		Country:  country,
		Lat:      parseOptionalFloat(record[2]),
		Lon:      parseOptionalFloat(record[3]),
		Counts:   make([]int64, 0, width-tableMetaColumns),
	}
	for _, field := range record[tableMetaColumns:] {
		count, ok := parseCount(field)
		if !ok {
			return TableRow{}, false
		}
		row.Counts = append(row.Counts, count)
	}
	return row, true
}

// parseCount accepts a non-negative whole number, also when written with a
// fractional part of zero.
func parseCount(field string) (int64, bool) {
	field = strings.TrimSpace(field)
	if v, err := strconv.ParseInt(field, 10, 64); err == nil {
		return v, v >= 0
	}
	f, err := strconv.ParseFloat(field, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

func parseOptionalFloat(field string) null.Float {
	f, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return null.Float{}
	}
	return null.FloatFrom(math.Round(f*1e5) / 1e5)
}

func newCSVReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return reader
}

// Entities returns the sorted unique country names of the table.
func (t *Table) Entities() []string {
	seen := make(map[string]struct{}, len(t.Rows))
	for _, row := range t.Rows {
		seen[row.Country] = struct{}{}
	}
	entities := make([]string, 0, len(seen))
	for name := range seen {
		entities = append(entities, name)
	}
	sort.Strings(entities)
	return entities
}

// Series sums the counts of every row belonging to entity.
func (t *Table) Series(entity string) ([]int64, error) {
	var (
		sum   []int64
		found bool
	)
	for _, row := range t.Rows {
		if row.Country != entity {
			continue
		}
		if !found {
			sum = make([]int64, len(t.Dates))
			found = true
		}
		for i, v := range row.Counts {
			sum[i] += v
		}
	}
	if !found {
		return nil, NewNoDataForEntity(entity)
	}
	return sum, nil
}

// sameDates reports whether both tables share the date axis.
func (t *Table) sameDates(other *Table) bool {
	if len(t.Dates) != len(other.Dates) {
		return false
	}
	for i := range t.Dates {
		if !t.Dates[i].Equal(other.Dates[i]) {
			return false
		}
	}
	return true
}

// BuildEntitySeries assembles the series of one entity from the three global
// tables, summing provinces into their country.
func BuildEntitySeries(confirmed, deaths, recovered *Table, entity string) (*EntitySeries, error) {
	if !confirmed.sameDates(deaths) || !confirmed.sameDates(recovered) {
		return nil, NewShapeMismatchf("date axes differ: confirmed=%d deaths=%d recovered=%d",
			len(confirmed.Dates), len(deaths.Dates), len(recovered.Dates))
	}

	c, err := confirmed.Series(entity)
	if err != nil {
		return nil, err
	}
	d, err := deaths.Series(entity)
	if err != nil {
		return nil, err
	}
	r, err := recovered.Series(entity)
	if err != nil {
		return nil, err
	}

	dates := make([]time.Time, len(confirmed.Dates))
	copy(dates, confirmed.Dates)
	series := &EntitySeries{
		Entity:    entity,
		Dates:     dates,
		Confirmed: c,
		Deaths:    d,
		Recovered: r,
	}
	return series, series.Validate()
}

// LatestTable is a parsed latest-snapshot table keyed by country.
type LatestTable struct {
	Snapshots map[string]models.LatestSnapshot
	Dropped   int
}

// ParseLatestTable reads the per-country snapshot table with the columns
// country, last update, lat, long, confirmed, deaths, recovered, active.
// Values that do not parse are Null. Rows without a country are dropped.
func ParseLatestTable(r io.Reader) (*LatestTable, error) {
	reader := newCSVReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, wrapErrorf(ErrParse, err, "read header")
	}
	if len(header) < latestColumns {
		return nil, NewParseErrorf("header has %d columns, need at least %d", len(header), latestColumns)
	}

	table := &LatestTable{Snapshots: make(map[string]models.LatestSnapshot)}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				table.Dropped++
				continue
			}
			return nil, wrapErrorf(ErrParse, err, "read row")
		}
		if len(record) < latestColumns || strings.TrimSpace(record[0]) == "" {
			table.Dropped++
			continue
		}

		table.Snapshots[strings.TrimSpace(record[0])] = models.LatestSnapshot{
			LastUpdate: strings.TrimSpace(record[1]),
			Where: models.Location{
				Lat: parseOptionalFloat(record[2]),
				Lon: parseOptionalFloat(record[3]),
			},
			Total:     parseOptionalCount(record[4]),
			Deaths:    parseOptionalCount(record[5]),
			Recovered: parseOptionalCount(record[6]),
			Active:    parseOptionalCount(record[7]),
		}
	}
	return table, nil
}

func parseOptionalCount(field string) null.Int {
	f, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return null.Int{}
	}
	return null.IntFrom(int64(f))
}
