package csvparser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CampaignPulse/internal/models"
)

func TestParseRecipients(t *testing.T) {
	in := "Email,first_name,Last Name,Company,Job Title,Industry,contactId,notes\n" +
		"jane@co.com,Jane,Doe,Acme,CTO,SaaS,k1,ignored\n" +
		" bob@co.com ,Bob,,,,,,\n"

	got, err := ParseRecipients(strings.NewReader(in), 0)
	require.NoError(t, err)
	assert.Equal(t, []models.Recipient{
		{Email: "jane@co.com", FirstName: "Jane", LastName: "Doe", Company: "Acme", Role: "CTO", Industry: "SaaS", ContactID: "k1"},
		{Email: "bob@co.com", FirstName: "Bob"},
	}, got)
}

func TestParseRecipientsTitleColumnFillsRole(t *testing.T) {
	got, err := ParseRecipients(strings.NewReader("email,title\na@x.com,VP Sales\n"), 0)
	require.NoError(t, err)
	assert.Equal(t, "VP Sales", got[0].Role)
}

func TestParseRecipientsSkipsBadRows(t *testing.T) {
	in := "email,firstName\n" +
		"a@x.com,Ann\n" +
		",NoEmail\n" +
		"not-an-email,Nope\n" +
		"short\n" +
		"b@x.com,Ben\n"

	got, err := ParseRecipients(strings.NewReader(in), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b@x.com", got[1].Email)
}

func TestParseRecipientsMaxRows(t *testing.T) {
	got, err := ParseRecipients(strings.NewReader("email\na@x.com\nb@x.com\n"), 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = ParseRecipients(strings.NewReader("email\na@x.com\nb@x.com\nc@x.com\n"), 2)
	assert.ErrorIs(t, err, ErrTooManyRows)

	// rows that would be skipped anyway do not count against the limit
	got, err = ParseRecipients(strings.NewReader("email\na@x.com\nb@x.com\nnot-an-email\n"), 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestParseRecipientsByteOrderMark(t *testing.T) {
	got, err := ParseRecipients(strings.NewReader("\ufeffEmail\na@x.com\n"), 0)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", got[0].Email)
}

func TestParseRecipientsErrors(t *testing.T) {
	_, err := ParseRecipients(strings.NewReader("name,company\nJane,Acme\n"), 0)
	assert.ErrorIs(t, err, ErrNoEmailColumn)

	_, err = ParseRecipients(strings.NewReader(""), 0)
	assert.ErrorIs(t, err, ErrNoEmailColumn)

	_, err = ParseRecipients(strings.NewReader("email\n"), 0)
	assert.ErrorIs(t, err, ErrNoRows)
}
