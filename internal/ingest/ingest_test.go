package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/provider-verify/internal/model"
)

const header = "Provider Name,Specialty,Phone,Email,Address,City,State,ZIP,NPI\n"

func TestValidNPI(t *testing.T) {
	tests := []struct {
		npi  string
		want bool
	}{
		{"1234567893", true},
		{"1245319599", true},
		{"1999999992", true},
		{"1234567890", false},
		{"123456789", false},
		{"12345678930", false},
		{"12345678a3", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.npi, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidNPI(tt.npi))
		})
	}
}

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader([]string{"\ufeffprovider_name", " SPECIALTY ", "Phone Number", "street-address", "City", "state", "Zip Code", "NPI", "Notes"})
	require.NoError(t, err)
	assert.Equal(t, 0, h[ColName])
	assert.Equal(t, 3, h[ColAddress])
	assert.Equal(t, 6, h[ColZIP])
	_, hasEmail := h[ColEmail]
	assert.False(t, hasEmail)

	_, err = ParseHeader([]string{"Provider Name", "Specialty", "Phone"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMissingColumns))
	assert.Contains(t, err.Error(), "Address, City, State, ZIP, NPI")
}

func TestNormalize(t *testing.T) {
	h, err := ParseHeader(strings.Split(strings.TrimSpace(header), ","))
	require.NoError(t, err)

	p, err := h.Normalize(2, []string{"  Dr. Sarah   Johnson ", "Cardiology", "(212) 555-0123", "SJohnson@NYHeart.com",
		"450 Park Avenue, Suite 1200", "New York", "new york", "10022", "1234-567-893"})
	require.NoError(t, err)
	assert.Equal(t, "Dr. Sarah Johnson", p.Name)
	assert.Equal(t, "1234567893", p.NPI)
	assert.Equal(t, "NY", p.State)
	assert.Equal(t, "New York, NY", p.Location)
	assert.Equal(t, "450 Park Avenue, Suite 1200, New York, NY 10022", p.Address)
	assert.Equal(t, "sjohnson@nyheart.com", p.Email)
	assert.Equal(t, model.StatusNeedsReview, p.Status)
	assert.Zero(t, p.ConfidenceScore)

	// Short rows leave trailing fields empty.
	_, err = h.Normalize(3, []string{"Jane Doe"})
	var mre *MalformedRecordError
	require.ErrorAs(t, err, &mre)
	assert.Equal(t, "missing npi", mre.Reason)
	assert.Equal(t, 3, mre.Line)
}

func TestNormalize_Malformed(t *testing.T) {
	h, err := ParseHeader(strings.Split(strings.TrimSpace(header), ","))
	require.NoError(t, err)

	tests := []struct {
		name   string
		row    []string
		reason string
	}{
		{"missing npi", []string{"Jane Doe", "", "", "", "", "", "", "", ""}, "missing npi"},
		{"missing name", []string{" ", "", "", "", "", "", "", "", "1234567893"}, "missing provider name"},
		{"bad check digit", []string{"Jane Doe", "", "", "", "", "", "", "", "1234567890"}, "invalid npi"},
		{"too short", []string{"Jane Doe", "", "", "", "", "", "", "", "12345"}, "invalid npi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Normalize(7, tt.row)
			var mre *MalformedRecordError
			require.ErrorAs(t, err, &mre)
			assert.Equal(t, tt.reason, mre.Reason)
			assert.Contains(t, mre.Error(), "line 7")
		})
	}
}

func TestReadCSV(t *testing.T) {
	data := header +
		`"Dr. Sarah Johnson",Cardiology,(212) 555-0123,,"450 Park Avenue, Suite 1200",New York,NY,10022,1234567893` + "\n" +
		`Dr. Michael Chen,Pediatrics,(415) 555-0456,,1 Market St,San Francisco,CA,94105,1234567890` + "\n" +
		",,,,,,,,\n" +
		`Dr. Emily Rodriguez,Dermatology,(305) 555-0789,,200 Biscayne Blvd,Miami,FL,33131,1245319599` + "\n" +
		`Dr. Duplicate,Dermatology,,,,Miami,FL,33131,1245319599` + "\n" +
		`No NPI Here,Dermatology,,,,Miami,FL,33131` + "\n"

	up, err := ReadCSV(context.Background(), strings.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, 5, up.Rows)
	require.Len(t, up.Providers, 2)
	assert.Equal(t, "1234567893", up.Providers[0].NPI)
	assert.Equal(t, "450 Park Avenue, Suite 1200, New York, NY 10022", up.Providers[0].Address)
	assert.Equal(t, "Dr. Emily Rodriguez", up.Providers[1].Name)

	require.Len(t, up.Malformed, 3)
	assert.Equal(t, "invalid npi", up.Malformed[0].Reason)
	assert.Equal(t, 3, up.Malformed[0].Line)
	assert.Contains(t, up.Malformed[1].Reason, "duplicate npi")
	assert.Equal(t, "missing npi", up.Malformed[2].Reason)
}

func TestReadCSV_MissingHeader(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("Name,Phone\nJane,555\n"))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMissingColumns))

	_, err = ReadCSV(context.Background(), strings.NewReader(""))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMissingColumns))
}

func TestReadCSV_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadCSV(ctx, strings.NewReader(header+"a,b,c,d,e,f,g,h,1234567893\n"))
	require.Error(t, err)
}

func TestReadXLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Providers")
	require.NoError(t, err)
	for _, rowData := range [][]string{
		strings.Split(strings.TrimSpace(header), ","),
		{"Dr. Sarah Johnson", "Cardiology", "(212) 555-0123", "", "450 Park Avenue", "New York", "NY", "10022", "1234567893"},
		{"Dr. Bad", "Cardiology", "", "", "", "", "", "", "1111111111"},
	} {
		row := sheet.AddRow()
		for _, v := range rowData {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "upload.xlsx")
	require.NoError(t, f.Save(path))

	up, err := ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, up.Rows)
	require.Len(t, up.Providers, 1)
	assert.Equal(t, "Dr. Sarah Johnson", up.Providers[0].Name)
	require.Len(t, up.Malformed, 1)
	assert.Equal(t, 3, up.Malformed[0].Line)
}

func TestReadFile_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.csv")
	require.NoError(t, os.WriteFile(path, []byte(header+
		"Dr. Sarah Johnson,Cardiology,,,,New York,NY,10022,1234567893\n"), 0o644))

	up, err := ReadFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, up.Providers, 1)

	_, err = ReadFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
