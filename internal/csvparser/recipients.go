package csvparser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/badoux/checkmail"

	"CampaignPulse/internal/models"
)

// DefaultMaxRows caps an upload when the caller passes no limit.
const DefaultMaxRows = 1000

var (
	ErrNoEmailColumn = errors.New("csv must contain an Email column")
	ErrNoRows        = errors.New("csv must contain at least one data row")
	ErrTooManyRows   = errors.New("csv has too many rows")
)

type column int

const (
	colEmail column = iota
	colContactID
	colFirstName
	colLastName
	colCompany
	colRole
	colIndustry
)

// headers maps a normalized header to the recipient field it fills.
var headers = map[string]column{
	"email":        colEmail,
	"emailaddress": colEmail,
	"contactid":    colContactID,
	"firstname":    colFirstName,
	"lastname":     colLastName,
	"company":      colCompany,
	"role":         colRole,
	"title":        colRole,
	"jobtitle":     colRole,
	"industry":     colIndustry,
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer("_", "", " ", "", "-", "").Replace(h)
}

// ParseRecipients reads a recipient list from CSV. The header row must carry
// an Email column; the personalization columns are optional and unknown
// columns are ignored. Rows with a missing or malformed email, or with the
// wrong field count, are skipped. More than maxRows usable rows is an error
// rather than a silent truncation.
func ParseRecipients(r io.Reader, maxRows int) ([]models.Recipient, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrNoEmailColumn
	}
	if err != nil {
		return nil, err
	}

	index := make(map[column]int)
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		if c, ok := headers[normalizeHeader(h)]; ok {
			if _, seen := index[c]; !seen {
				index[c] = i
			}
		}
	}
	if _, ok := index[colEmail]; !ok {
		return nil, ErrNoEmailColumn
	}

	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	get := func(record []string, c column) string {
		i, ok := index[c]
		if !ok {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	recipients := make([]models.Recipient, 0)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) != len(header) {
			continue // malformed
		}

		email := get(record, colEmail)
		if email == "" || checkmail.ValidateFormat(email) != nil {
			continue
		}

		if len(recipients) == maxRows {
			return nil, fmt.Errorf("%w: limit is %d", ErrTooManyRows, maxRows)
		}

		recipients = append(recipients, models.Recipient{
			Email:     email,
			ContactID: get(record, colContactID),
			FirstName: get(record, colFirstName),
			LastName:  get(record, colLastName),
			Company:   get(record, colCompany),
			Role:      get(record, colRole),
			Industry:  get(record, colIndustry),
		})
	}

	if len(recipients) == 0 {
		return nil, ErrNoRows
	}

	return recipients, nil
}
