package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/wiki-animals-harvester/models"
)

func sampleGroups() *models.AggregationMap {
	groups := models.NewAggregationMap()
	groups.Add("Test1", "Animal1")
	groups.Add("test2", "Animal2")
	groups.Add("test2", "Animal3")
	return groups
}

func TestCSVWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "groups.csv")

	writer, err := NewCSVWriter(path)
	require.NoError(t, err)
	require.NoError(t, writer.Write(sampleGroups()))
	require.NoError(t, writer.Close())
	require.NoError(t, writer.Validate())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Collateral Adjective", "Animals"},
		{"Test1", "Animal1"},
		{"Test2", "Animal2,Animal3"},
	}, records)
}

// Fields are quoted only when they contain a comma, a quote or a line break.
func TestCSVWriterQuoting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.csv")

	groups := sampleGroups()
	groups.Add("odd", `Say "moo"`)

	writer, err := NewCSVWriter(path)
	require.NoError(t, err)
	require.NoError(t, writer.Write(groups))
	require.NoError(t, writer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Collateral Adjective,Animals\n"+
		"Test1,Animal1\n"+
		"Test2,\"Animal2,Animal3\"\n"+
		"Odd,\"Say \"\"moo\"\"\"\n", string(data))
}

func TestJSONWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groups.jsonl")

	writer, err := NewJSONWriter(path)
	require.NoError(t, err)
	require.NoError(t, writer.Write(sampleGroups()))
	require.NoError(t, writer.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []groupLine
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line groupLine
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line), "decode line %q", scanner.Text())
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())

	assert.Equal(t, []groupLine{
		{Label: "Test1", Animals: []string{"Animal1"}},
		{Label: "test2", Animals: []string{"Animal2", "Animal3"}},
	}, lines)
}

func TestJSONWriterValidateEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	writer, err := NewJSONWriter(path)
	require.NoError(t, err)
	defer writer.Close()

	require.NoError(t, writer.Write(models.NewAggregationMap()))
	assert.Error(t, writer.Validate(), "empty output should not validate")
}

func TestNewDualWriter(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "groups.csv")

	writer, err := New("dual", csvPath)
	require.NoError(t, err)
	require.NoError(t, writer.Write(sampleGroups()))
	require.NoError(t, writer.Close())
	require.NoError(t, writer.Validate())

	assert.FileExists(t, filepath.Join(dir, "groups.csv"))
	assert.FileExists(t, filepath.Join(dir, "groups.json"))
}

func TestNewUnsupportedFormat(t *testing.T) {
	_, err := New("xml", filepath.Join(t.TempDir(), "out.xml"))
	assert.Error(t, err)
}

func TestCapitalize(t *testing.T) {
	tests := map[string]string{
		"":         "",
		"feline":   "Feline",
		"AVIAN":    "Avian",
		"équine":   "Équine",
		"two word": "Two word",
	}
	for in, want := range tests {
		assert.Equal(t, want, Capitalize(in), "Capitalize(%q)", in)
	}
}
