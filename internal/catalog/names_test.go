package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExternal(t *testing.T) {
	t.Run("county", func(t *testing.T) {
		assert.Equal(t, "Miami-Dade", External("miami_dade", NameCounty))
		assert.Equal(t, "DeSoto", External("desoto", NameCounty))
		assert.Equal(t, "St. Lucie", External("st_lucie", NameCounty))
		assert.Equal(t, "Alachua", External("alachua", NameCounty))
	})

	t.Run("city", func(t *testing.T) {
		assert.Equal(t, "Gainesville", External("gainesville", NameCity))
		assert.Equal(t, "St. Augustine", External("st_augustine", NameCity))
		assert.Equal(t, "Ft. Lauderdale", External("ft_lauderdale", NameCity))
		assert.Equal(t, "Howey-in-the-Hills", External("howey_in_the_hills", NameCity))
		assert.Equal(t, "Unincorporated", External("unincorporated", NameCity))
	})

	t.Run("state", func(t *testing.T) {
		assert.Equal(t, "FL", External("fl", NameState))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, "", External("", NameCounty))
	})
}

func TestInternal(t *testing.T) {
	assert.Equal(t, "miami_dade", Internal("Miami-Dade", NameCounty))
	assert.Equal(t, "st_lucie", Internal("St. Lucie", NameCounty))
	assert.Equal(t, "st_augustine", Internal("St. Augustine", NameCity))
	assert.Equal(t, "howey_in_the_hills", Internal("Howey-in-the-Hills", NameCity))
	assert.Equal(t, "", Internal("", NameCity))
}

func TestNameRoundTrip(t *testing.T) {
	for _, name := range []string{"miami_dade", "st_johns", "palm_beach", "howey_in_the_hills"} {
		kind := NameCounty
		if name == "howey_in_the_hills" {
			kind = NameCity
		}
		assert.Equal(t, name, Internal(External(name, kind), kind), name)
	}
}
