package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompose_AllMatchesEverything(t *testing.T) {
	c := NewComposer(vehicleFields())
	pred, err := c.Compose("", map[string]string{"status": All, "make": ""}, []string{"make"})
	require.NoError(t, err)

	for _, v := range sampleVehicles() {
		assert.True(t, pred(v), v.ID)
	}
}

func TestCompose_SearchIsCaseInsensitiveAcrossSearchableFields(t *testing.T) {
	c := NewComposer(vehicleFields())
	pred, err := c.Compose("  CARL ", nil, []string{"make", "seller"})
	require.NoError(t, err)

	var matched []string
	for _, v := range sampleVehicles() {
		if pred(v) {
			matched = append(matched, v.ID)
		}
	}
	assert.Equal(t, []string{"v3"}, matched)
}

func TestCompose_SearchIgnoresNonSearchableFields(t *testing.T) {
	c := NewComposer(vehicleFields())
	pred, err := c.Compose("flagged", nil, []string{"make", "seller"})
	require.NoError(t, err)

	for _, v := range sampleVehicles() {
		assert.False(t, pred(v), v.ID)
	}
}

func TestCompose_FiltersAreExactAndConjunctive(t *testing.T) {
	c := NewComposer(vehicleFields())

	pred, err := c.Compose("", map[string]string{"status": "active", "make": "BMW"}, nil)
	require.NoError(t, err)
	var matched []string
	for _, v := range sampleVehicles() {
		if pred(v) {
			matched = append(matched, v.ID)
		}
	}
	assert.Equal(t, []string{"v5"}, matched)

	pred, err = c.Compose("", map[string]string{"make": "bmw"}, nil)
	require.NoError(t, err)
	for _, v := range sampleVehicles() {
		assert.False(t, pred(v), "filters compare exactly: %s", v.ID)
	}
}

func TestCompose_UnknownFieldsFail(t *testing.T) {
	c := NewComposer(vehicleFields())

	_, err := c.Compose("", map[string]string{"colour": All}, nil)
	assert.ErrorIs(t, err, ErrUnknownFilterField)

	_, err = c.Compose("x", nil, []string{"vin"})
	assert.ErrorIs(t, err, ErrUnknownFilterField)
}

func TestComposer_CopiesFieldRegistry(t *testing.T) {
	fields := vehicleFields()
	c := NewComposer(fields)
	delete(fields, "make")
	fields["vin"] = func(vehicle) string { return "" }

	assert.Equal(t, []string{"id", "make", "seller", "status"}, c.Fields())
}
