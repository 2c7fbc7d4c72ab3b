package recipient

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	input := `title,category,city,website,email,phone
Acme,Software,Lyon,https://acme.test,HR@Acme.test,0102
Acme,Software,Lyon,https://acme.test,jobs@acme.test,
Zenith,Consulting,Paris,,contact@zenith.test,
Broken,Software,Paris,,not-an-email,
Empty,Software,Paris,,,
Dup,Software,Paris,,hr@acme.test,
Errors,Software,Paris,,errors@sentry.acme.test,
`
	result, err := Load(strings.NewReader(input), Options{ExcludePatterns: []string{"Sentry"}})
	require.NoError(t, err)

	require.Len(t, result.Records, 3)
	assert.Equal(t, Record{
		Email:       "hr@acme.test",
		CompanyName: "Acme",
		Category:    "Software",
		City:        "Lyon",
		Website:     "https://acme.test",
		Phone:       "0102",
	}, result.Records[0])
	assert.Equal(t, "jobs@acme.test", result.Records[1].Email)
	assert.Equal(t, "Zenith", result.Records[2].CompanyName)

	require.Len(t, result.Rejected, 4)
	assert.Equal(t, Rejection{Line: 5, Email: "not-an-email", Reason: "invalid email"}, result.Rejected[0])
	assert.Equal(t, Rejection{Line: 6, Email: "", Reason: "missing email"}, result.Rejected[1])
	assert.Equal(t, Rejection{Line: 7, Email: "hr@acme.test", Reason: "duplicate of line 2"}, result.Rejected[2])
	assert.Equal(t, "excluded by pattern sentry", result.Rejected[3].Reason)
}

func TestLoadHeaderAliases(t *testing.T) {
	input := "\ufeffCompany,E-Mail,CITY\nAcme,hr@acme.test,Lyon\n"

	result, err := Load(strings.NewReader(input), Options{})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "Acme", result.Records[0].CompanyName)
	assert.Equal(t, "Lyon", result.Records[0].City)
}

func TestLoadShortRows(t *testing.T) {
	input := "email,city\nhr@acme.test\n"

	result, err := Load(strings.NewReader(input), Options{})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Empty(t, result.Records[0].City)
}

func TestLoadNoEmailColumn(t *testing.T) {
	_, err := Load(strings.NewReader("title,city\nAcme,Lyon\n"), Options{})
	assert.ErrorIs(t, err, ErrNoEmailColumn)

	_, err = Load(strings.NewReader(""), Options{})
	assert.ErrorIs(t, err, ErrNoEmailColumn)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipients.csv")
	require.NoError(t, os.WriteFile(path, []byte("email\nhr@acme.test\n"), 0644))

	result, err := LoadFile(path, Options{})
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.csv"), Options{})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Record{Email: "hr@acme.test"}))
	assert.EqualError(t, Validate(Record{}), "missing email")
	assert.EqualError(t, Validate(Record{Email: "nope"}), "invalid email")
}

func TestRecordLabel(t *testing.T) {
	assert.Equal(t, "Acme", Record{Email: "hr@acme.test", CompanyName: "Acme"}.Label())
	assert.Equal(t, "hr@acme.test", Record{Email: "hr@acme.test"}.Label())
}
