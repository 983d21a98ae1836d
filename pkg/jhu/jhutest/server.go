// Package jhutest serves fixture upstream tables over HTTP for tests.
package jhutest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/irfndi/covid-pulse-go/internal/config"
)

const ConfirmedCSV = `Province/State,Country/Region,Lat,Long,3/1/20,3/2/20,3/3/20,3/4/20,3/5/20,3/6/20,3/7/20,3/8/20,3/9/20,3/10/20
,Germany,51.165691,10.451526,100,130,170,220,290,380,490,640,830,1080
,Italy,41.87194,12.56738,1000,1300,1690,2200,2860,3700,4800,6250,8100,10500
,Diamond Princess,0,0,700,700,700,700,700,700,700,700,700,700
Bavaria,"Korea, South",36.0,128.0,10,12,14,16,18,20,22,24,26,28
Jeju,"Korea, South",33.0,126.0,1,1,1,1,1,1,1,1,1,1
,Atlantis,0,0,1,2,x,4,5,6,7,8,9,10
,Chile,-35.6751,-71.543,0,0,1,1,3,5,8,13,21,34
`

const DeathsCSV = `Province/State,Country/Region,Lat,Long,3/1/20,3/2/20,3/3/20,3/4/20,3/5/20,3/6/20,3/7/20,3/8/20,3/9/20,3/10/20
,Germany,51.165691,10.451526,0,0,0,1,1,2,2,3,4,5
,Italy,41.87194,12.56738,20,30,40,55,70,90,120,160,200,260
,Diamond Princess,0,0,6,6,6,6,6,6,7,7,7,7
Bavaria,"Korea, South",36.0,128.0,0,0,0,0,0,0,0,0,0,1
`

const RecoveredCSV = `Province/State,Country/Region,Lat,Long,3/1/20,3/2/20,3/3/20,3/4/20,3/5/20,3/6/20,3/7/20,3/8/20,3/9/20,3/10/20
,Germany,51.165691,10.451526,10,14,19,25,33,44,58,77,100,130
,Italy,41.87194,12.56738,50,70,95,130,175,235,315,420,560,750
,Diamond Princess,0,0,400,420,440,460,480,500,520,540,560,580
,"Korea, South",35.9,127.7,0,1,2,3,4,5,6,7,8,9
`

const LatestCSV = `Country_Region,Last_Update,Lat,Long_,Confirmed,Deaths,Recovered,Active
Germany,2020-03-10 12:00:00,51.1656912,10.451526,1080,5,130,945
Italy,2020-03-10 12:00:00,41.87194,12.56738,10500,260,750,9490
`

const WorldDataTSV = "country\tpopulation\tflag\n" +
	"Germany\t83019200\tde.png\n" +
	"Italy\t60359546\tit.png\n" +
	"Korea, South\t51709098\tkr.png\n" +
	"Diamond Princess\t3711\t\n" +
	"\t12\tnone.png\n" +
	"Nowhere\tmany\tnw.png\n"

// Server is a fake upstream with per-path overrides.
type Server struct {
	*httptest.Server
	Bodies map[string]string
	Status map[string]int

	mu   sync.Mutex
	hits map[string]int
}

// NewServer starts a fake upstream serving the fixture tables. It is closed
// when the test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		Bodies: map[string]string{
			"/series/time_series_covid19_confirmed_global.csv": ConfirmedCSV,
			"/series/time_series_covid19_deaths_global.csv":    DeathsCSV,
			"/series/time_series_covid19_recovered_global.csv": RecoveredCSV,
			"/latest/cases_country.csv":                        LatestCSV,
			"/world-data.csv":                                  WorldDataTSV,
		},
		Status: map[string]int{},
		hits:   map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		status, failing := s.Status[r.URL.Path]
		s.mu.Unlock()
		if failing {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("upstream unavailable"))
			return
		}
		body, ok := s.Bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

// SourceConfig points a client at the fake upstream.
func (s *Server) SourceConfig() config.SourceConfig {
	return config.SourceConfig{
		TimeSeriesURL: s.URL + "/series/",
		LatestURL:     s.URL + "/latest/cases_country.csv",
		WorldDataURL:  s.URL + "/world-data.csv",
		Timeout:       5,
	}
}

// Fail makes path answer with status.
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status[strings.TrimSpace(path)] = status
}

// Heal makes path serve its body again.
func (s *Server) Heal(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Status, strings.TrimSpace(path))
}

// HitCount returns how often path was requested.
func (s *Server) HitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}
