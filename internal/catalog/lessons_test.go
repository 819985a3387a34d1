package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleLessons(t *testing.T) {
	// Act
	lessons := SampleLessons()

	// Assert
	require.Len(t, lessons, 3)
	titles := map[string]bool{}
	for _, l := range lessons {
		assert.False(t, titles[l.Title], "duplicate title %s", l.Title)
		titles[l.Title] = true
		assert.NotEmpty(t, l.Description)
		assert.NotEmpty(t, l.Location)
		assert.Positive(t, l.Price)
		assert.Positive(t, l.AvailableInventory)
	}
}

func TestSampleLessons_ReturnsCopy(t *testing.T) {
	// Arrange
	first := SampleLessons()

	// Act
	first[0].AvailableInventory = 0

	// Assert
	assert.Equal(t, 10, SampleLessons()[0].AvailableInventory)
}
