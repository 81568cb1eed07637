package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPopulationResolver_AsOf(t *testing.T) {
	r := testResolver(t,
		PopulationObservation{LocationCode: testMuniA1, Year: 2021, Population: 1100},
		PopulationObservation{LocationCode: testMuniA1, Year: 2019, Population: 900},
		PopulationObservation{LocationCode: testMuniA1, Year: 2020, Population: 1000},
	)

	tests := []struct {
		name string
		date time.Time
		want Population
	}{
		{name: "before first observation", date: day(2018, time.December, 31), want: Population{}},
		{name: "exactly on observation", date: day(2019, time.January, 1), want: KnownPopulation(900)},
		{name: "mid year", date: day(2020, time.June, 15), want: KnownPopulation(1000)},
		{name: "last day before next", date: day(2020, time.December, 31), want: KnownPopulation(1000)},
		{name: "after latest", date: day(2030, time.March, 1), want: KnownPopulation(1100)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, r.AsOf(testMuniA1, tc.date))
		})
	}

	assert.False(t, r.AsOf("municip9999", day(2021, time.January, 1)).Valid)
}

func TestPopulationResolver_NeverUsesFutureObservation(t *testing.T) {
	r := testResolver(t, PopulationObservation{LocationCode: testMuniA1, Year: 2021, Population: 1100})

	p := r.AsOf(testMuniA1, day(2020, time.December, 31))
	assert.False(t, p.Valid)

	_, err := r.Lookup(testMuniA1, day(2020, time.December, 31))
	assert.ErrorIs(t, err, ErrPopulationUnavailable)

	n, err := r.Lookup(testMuniA1, day(2021, time.January, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(1100), n)
}

func TestPopulationResolver_RetentionBoundary(t *testing.T) {
	r := testResolver(t,
		PopulationObservation{LocationCode: testMuniA1, Year: 2014, Population: 800},
		PopulationObservation{LocationCode: testMuniA2, Year: 2014, Population: 1800},
		PopulationObservation{LocationCode: testMuniA2, Year: 2016, Population: 1900},
	)

	// Dropped entirely: a 2015 query must not fall back to the 2014 figure.
	assert.False(t, r.AsOf(testMuniA1, day(2015, time.June, 1)).Valid)
	assert.False(t, r.AsOf(testMuniA2, day(2015, time.June, 1)).Valid)
	assert.Equal(t, KnownPopulation(1900), r.AsOf(testMuniA2, day(2016, time.June, 1)))
	assert.Equal(t, 1, r.Locations())
}

func TestPopulationResolver_RejectsInvalidSeries(t *testing.T) {
	t.Run("duplicate year", func(t *testing.T) {
		_, err := NewPopulationResolver([]PopulationObservation{
			{LocationCode: testMuniA1, Year: 2020, Population: 1},
			{LocationCode: testMuniA1, Year: 2020, Population: 2},
		}, retention)
		assert.ErrorIs(t, err, ErrMalformedInput)
	})

	t.Run("negative population", func(t *testing.T) {
		_, err := NewPopulationResolver([]PopulationObservation{
			{LocationCode: testMuniA1, Year: 2020, Population: -1},
		}, retention)
		assert.ErrorIs(t, err, ErrMalformedInput)
	})
}

func TestNormalizePopulationCode(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "K-0301 Oslo", want: "municip0301"},
		{raw: "K-1101 Eigersund", want: "municip1101"},
		{raw: "K-5001", want: "municip5001"},
		{raw: "  K-3001 Halden (2020-2023)", want: "municip3001"},
		{raw: "", wantErr: true},
		{raw: "K-", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := NormalizePopulationCode(tc.raw, 2, "municip")
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizePopulationCode_NegativeStrip(t *testing.T) {
	assert.NotPanics(t, func() {
		_, err := NormalizePopulationCode("K-0301 Oslo", -1, "municip")
		assert.ErrorContains(t, err, "negative prefix length")
	})
}

func TestPopulation_Add(t *testing.T) {
	assert.Equal(t, KnownPopulation(3), KnownPopulation(1).Add(KnownPopulation(2)))
	assert.False(t, KnownPopulation(1).Add(Population{}).Valid)
	assert.False(t, Population{}.Add(KnownPopulation(1)).Valid)
	assert.Equal(t, "", Population{}.String())
	assert.Equal(t, "42", KnownPopulation(42).String())
}
