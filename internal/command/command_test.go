package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		assert.Equal(t, []string{"unzip", "-o", "data.zip"}, Split("unzip -o data.zip"))
	})

	t.Run("quoted argument", func(t *testing.T) {
		assert.Equal(t,
			[]string{"ogr2ogr", "-where", "ZONE = 'AG'", "out.shp"},
			Split(`ogr2ogr -where "ZONE = 'AG'" out.shp`))
	})

	t.Run("single quotes", func(t *testing.T) {
		assert.Equal(t, []string{"echo", "hello world"}, Split("echo 'hello world'"))
	})

	t.Run("malformed quoting falls back to fields", func(t *testing.T) {
		assert.Equal(t, []string{"echo", `"unterminated`}, Split(`echo "unterminated`))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Split("   "))
	})
}

func TestExpand(t *testing.T) {
	t.Run("substitutes placeholders", func(t *testing.T) {
		out, err := Expand("python3 {tools_dir}/update.py {layer} {county}", map[string]string{
			"tools_dir": "/srv/tools",
			"layer":     "zoning",
			"county":    "alachua",
		})
		assert.NoError(t, err)
		assert.Equal(t, "python3 /srv/tools/update.py zoning alachua", out)
	})

	t.Run("unknown placeholder errors", func(t *testing.T) {
		_, err := Expand("run {oops}", map[string]string{"layer": "zoning"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "oops")
	})

	t.Run("no placeholders", func(t *testing.T) {
		out, err := Expand("psql -c 'select 1'", nil)
		assert.NoError(t, err)
		assert.Equal(t, "psql -c 'select 1'", out)
	})
}

func TestCommandString(t *testing.T) {
	c := Command{Program: "python3", Args: []string{"download.py", "https://example.com"}}
	assert.Equal(t, "python3 download.py https://example.com", c.String())
	assert.Equal(t, "true", Command{Program: "true"}.String())
}
