package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestDiscoverInputFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.xlsx"))
	touch(t, filepath.Join(dir, "a.csv"))
	touch(t, filepath.Join(dir, "~$b.xlsx"))
	touch(t, filepath.Join(dir, "notes.txt"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.csv"), 0755))

	fm := NewFileManager(dir, "", "")
	files, err := fm.DiscoverInputFiles([]string{"*.xlsx", "*.csv", "a.*"})
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "a.csv"), filepath.Join(dir, "b.xlsx")}, files)

	_, err = fm.DiscoverInputFiles([]string{"["})
	assert.Error(t, err)
}

func TestArchiveInputFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in", "march.xlsx")
	touch(t, input)

	fm := NewFileManager(filepath.Join(dir, "in"), "", filepath.Join(dir, "archive"))
	fm.UseTimestampSubdirs = true
	fm.now = func() time.Time { return time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC) }

	archived, err := fm.ArchiveInputFile(input)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "archive", "2024", "03", "05", "march.xlsx"), archived)
	assert.True(t, FileExists(archived))
	assert.False(t, FileExists(input))
}

func TestGenerateOutputFileName(t *testing.T) {
	name := GenerateOutputFileName("{source}_{kind}_{uuid}", map[string]string{"source": "march", "kind": "report"}, ".xlsx")

	assert.True(t, strings.HasPrefix(name, "march_report_"))
	assert.True(t, strings.HasSuffix(name, ".xlsx"))
	assert.Len(t, name, len("march_report_")+36+len(".xlsx"))

	assert.Equal(t, "export.xml", GenerateOutputFileName("export.xml", nil, ".xml"))
	assert.Equal(t, "march", SourceName("/data/in/march.xlsx"))
}

func TestWriteSummaryLog(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	path, err := WriteSummaryLog(ProcessingSummary{
		StartTime:       start,
		EndTime:         start.Add(2 * time.Second),
		TotalFiles:      2,
		SuccessfulFiles: 1,
		FailedFiles:     1,
		ProcessedFiles:  []ProcessedFileInfo{{InputFile: "march.xlsx", Rows: 10, Invoices: 3, Anomalous: 1, Ready: 2}},
		FailedFilesList: []FailedFileInfo{{InputFile: "broken.csv", ErrorMessage: "empty input"}},
	}, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "processing_summary_20240305_100002.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "Rows Read:          10")
	assert.Contains(t, text, "Ready To Import:    2")
	assert.Contains(t, text, "Error: empty input")
}
