package tabular

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/subsim/pkg/errors"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

func TestReadRecords(t *testing.T) {
	in := "id\tname\tnotation\n" +
		"m1\tethanol\tCCO\n" +
		"\n" +
		"# comment line\n" +
		"m2\t water \tO\n"
	records, err := ReadRecords(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []mtypes.Record{
		{ID: "m1", Name: "ethanol", Notation: "CCO"},
		{ID: "m2", Name: "water", Notation: "O"},
	}, records)
}

func TestReadRecords_AliasAndOrder(t *testing.T) {
	in := "\ufeffSMILES\tID\n" + "C1CC1\tcyclopropane\n"
	records, err := ReadRecords(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []mtypes.Record{{ID: "cyclopropane", Notation: "C1CC1"}}, records)
}

func TestReadRecords_HeaderOnly(t *testing.T) {
	records, err := ReadRecords(strings.NewReader("id\tname\tnotation\n"))
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NotNil(t, records)
}

func TestReadRecords_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"missing notation", "id\tname\nm1\tx\n"},
		{"missing id", "name\tnotation\nx\tC\n"},
		{"short row", "id\tname\tnotation\nm1\n"},
		{"blank id", "id\tnotation\n\tCC\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadRecords(strings.NewReader(tt.in))
			assert.True(t, errors.IsCode(err, errors.ErrCodeTableFormat), "got %v", err)
		})
	}
}

func TestWriteAnnotated(t *testing.T) {
	var buf bytes.Buffer
	err := WriteAnnotated(&buf, []mtypes.AnnotatedRecord{
		{Record: mtypes.Record{ID: "m1", Name: "propane", Notation: "CCC"}, Matches: []string{"eth", "ws"}},
		{Record: mtypes.Record{ID: "m2", Name: "ammonia", Notation: "N"}, Matches: []string{}},
	})
	require.NoError(t, err)
	assert.Equal(t,
		"id\tname\tnotation\tmatches\n"+
			"m1\tpropane\tCCC\teth;ws\n"+
			"m2\tammonia\tN\t\n",
		buf.String())
}

func TestWriteThenRead(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAnnotated(&buf, []mtypes.AnnotatedRecord{
		{Record: mtypes.Record{ID: "m1", Name: "a b", Notation: "C=O"}, Matches: []string{"x"}},
	}))
	records, err := ReadRecords(&buf)
	require.NoError(t, err)
	assert.Equal(t, []mtypes.Record{{ID: "m1", Name: "a b", Notation: "C=O"}}, records)
}

func TestReadAnnotated(t *testing.T) {
	in := "id\tname\tnotation\tmatches\n" +
		"m1\tpropane\tCCC\tws;eth\n" +
		"m2\tammonia\tN\t\n"
	rows, err := ReadAnnotated(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"eth", "ws"}, rows[0].Matches)
	assert.Equal(t, "propane", rows[0].Name)
	assert.Equal(t, []string{}, rows[1].Matches)

	_, err = ReadAnnotated(strings.NewReader("id\tnotation\nm1\tC\n"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeTableFormat))
}
