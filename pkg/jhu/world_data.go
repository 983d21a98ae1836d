package jhu

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/irfndi/covid-pulse-go/internal/epidemic"
	"github.com/irfndi/covid-pulse-go/internal/models"
)

// ParseWorldData reads the tab-separated population table: a header row,
// then country, population and flag. Rows without a country or with a
// non-numeric population are dropped and counted.
func ParseWorldData(r io.Reader) ([]models.WorldData, int, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, epidemic.NewParseErrorf("world data header: %v", err)
	}
	if len(header) < 3 {
		return nil, 0, epidemic.NewParseErrorf("world data header has %d columns, want 3", len(header))
	}

	var rows []models.WorldData
	dropped := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			dropped++
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read world data: %w", err)
		}

		row, ok := parseWorldRow(record)
		if !ok {
			dropped++
			continue
		}
		rows = append(rows, row)
	}
	return rows, dropped, nil
}

func parseWorldRow(record []string) (models.WorldData, bool) {
	if len(record) < 3 {
		return models.WorldData{}, false
	}
	country := strings.TrimSpace(record[0])
	if country == "" {
		return models.WorldData{}, false
	}
	population, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(record[1]), ",", ""), 10, 64)
	if err != nil || population < 0 {
		return models.WorldData{}, false
	}
	return models.WorldData{
		Country:    country,
		Population: population,
		Flag:       strings.TrimSpace(record[2]),
	}, true
}

// CountryList indexes rows by country for the companion entity list.
func CountryList(rows []models.WorldData) models.CountryList {
	list := make(models.CountryList, len(rows))
	for _, r := range rows {
		list[r.Country] = models.CountryInfo{Flag: r.Flag, Population: r.Population}
	}
	return list
}
