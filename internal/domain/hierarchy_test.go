package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationIndex_Resolve(t *testing.T) {
	idx := testIndex(t)

	rec, err := idx.Resolve(testMuniA2)
	require.NoError(t, err)
	assert.Equal(t, "muniA2", rec.MunicipalityName)
	assert.Equal(t, testCountyA, rec.CountyCode)
	assert.Equal(t, "CountyA", rec.CountyName)
	assert.Equal(t, 3, idx.Len())
}

func TestLocationIndex_UnknownLocation(t *testing.T) {
	idx := testIndex(t)

	_, err := idx.Resolve("municip9999")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownLocation)

	var unknown *UnknownLocationError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "municip9999", unknown.Code)
}

func TestLocationIndex_TreeInvariant(t *testing.T) {
	t.Run("municipality in two counties", func(t *testing.T) {
		records := append(testLocations(), LocationRecord{
			MunicipalityCode: testMuniA1, MunicipalityName: "muniA1", CountyCode: testCountyB, CountyName: "CountyB",
		})
		_, err := NewLocationIndex(records)
		assert.ErrorIs(t, err, ErrMalformedInput)
	})

	t.Run("county with two names", func(t *testing.T) {
		records := append(testLocations(), LocationRecord{
			MunicipalityCode: "municip0303", MunicipalityName: "muniA3", CountyCode: testCountyA, CountyName: "Other",
		})
		_, err := NewLocationIndex(records)
		assert.ErrorIs(t, err, ErrMalformedInput)
	})

	t.Run("exact duplicate row is tolerated", func(t *testing.T) {
		records := append(testLocations(), testLocations()[0])
		idx, err := NewLocationIndex(records)
		require.NoError(t, err)
		assert.Equal(t, 3, idx.Len())
	})

	t.Run("empty code", func(t *testing.T) {
		_, err := NewLocationIndex([]LocationRecord{{MunicipalityName: "nameless"}})
		assert.ErrorIs(t, err, ErrMalformedInput)
	})
}

func TestLocationIndex_TreeWalkOrder(t *testing.T) {
	idx := testIndex(t)

	assert.Equal(t, []County{{Code: testCountyA, Name: "CountyA"}, {Code: testCountyB, Name: "CountyB"}}, idx.Counties())

	munis := idx.Municipalities(testCountyA)
	require.Len(t, munis, 2)
	assert.Equal(t, testMuniA1, munis[0].MunicipalityCode)
	assert.Equal(t, testMuniA2, munis[1].MunicipalityCode)
	assert.Empty(t, idx.Municipalities("county99"))
}
