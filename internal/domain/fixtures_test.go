package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testMuniA1  = "municip0301"
	testMuniA2  = "municip0302"
	testMuniB1  = "municip1101"
	testCountyA = "county03"
	testCountyB = "county11"
)

var retention = time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testLocations() []LocationRecord {
	return []LocationRecord{
		{MunicipalityCode: testMuniA1, MunicipalityName: "muniA1", CountyCode: testCountyA, CountyName: "CountyA"},
		{MunicipalityCode: testMuniA2, MunicipalityName: "muniA2", CountyCode: testCountyA, CountyName: "CountyA"},
		{MunicipalityCode: testMuniB1, MunicipalityName: "muniB1", CountyCode: testCountyB, CountyName: "CountyB"},
	}
}

func testIndex(t *testing.T) *LocationIndex {
	t.Helper()
	idx, err := NewLocationIndex(testLocations())
	require.NoError(t, err)
	return idx
}

func testResolver(t *testing.T, obs ...PopulationObservation) *PopulationResolver {
	t.Helper()
	if len(obs) == 0 {
		obs = []PopulationObservation{
			{LocationCode: testMuniA1, Year: 2020, Population: 1000},
			{LocationCode: testMuniA2, Year: 2020, Population: 2000},
			{LocationCode: testMuniB1, Year: 2020, Population: 500},
		}
	}
	r, err := NewPopulationResolver(obs, retention)
	require.NoError(t, err)
	return r
}

func event(d time.Time, code string) CaseEvent {
	return CaseEvent{Date: d, LocationCode: code}
}
