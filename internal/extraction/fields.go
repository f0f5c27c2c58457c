package extraction

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/autoshop-labs/invoice-pipeline/internal/entity"
)

// Fields holds the candidate values pattern-matched out of raw text.
// Unmatched fields are empty strings (zero for the total); extraction
// never fails on malformed input.
type Fields struct {
	InvoiceNumber string
	RONumber      string
	Date          string
	TotalAmount   decimal.Decimal
	Parts         []entity.PartLine
}

// Parser turns recognized raw text into candidate invoice fields.
// Kept as an interface so a smarter parser can replace the regex one
// without touching the pipeline or posting logic.
type Parser interface {
	Parse(text string) Fields
}

var (
	reInvoiceNumber = regexp.MustCompile(`(?i)INV[-\s]?\d{5,}`)
	reRONumber      = regexp.MustCompile(`(?i)RO\d{5,}`)
	reAmount        = regexp.MustCompile(`\$\s*(\d{1,3}(,\d{3})*(\.\d{2})?)`)
	reDate          = regexp.MustCompile(`\d{2}/\d{2}/\d{4}`)
	rePartNumber    = regexp.MustCompile(`[A-Z0-9]{6,8}`)

	// Part rows print unseparated amounts ("$1500.00"), so their price
	// pattern takes any digit run; reAmount's grouped form is only for
	// the header total.
	rePartAmount = regexp.MustCompile(`\$\s*(\d+(\.\d{2})?)`)
)

// RegexParser is the deterministic pattern-based parser. Pure: no I/O,
// same output for the same input.
type RegexParser struct{}

func NewRegexParser() *RegexParser { return &RegexParser{} }

func (RegexParser) Parse(text string) Fields {
	f := Fields{
		InvoiceNumber: reInvoiceNumber.FindString(text),
		RONumber:      reRONumber.FindString(text),
		Date:          reDate.FindString(text),
		TotalAmount:   decimal.Zero,
	}
	if m := reAmount.FindStringSubmatch(text); m != nil {
		f.TotalAmount = parseAmount(m[1])
	}
	f.Parts = extractParts(text, f.InvoiceNumber, f.RONumber)
	return f
}

// extractParts scans text line by line. A line qualifies as a part row iff
// it contains both a 6-8 character alphanumeric run and a currency amount.
// Lines carrying the matched invoice/RO header tokens are skipped: the RO
// number itself is a 6-8 alnum run and would otherwise be misread as a
// part number on invoices that put the total on the header line.
// Output order equals line order in the source text.
func extractParts(text, invoiceNumber, roNumber string) []entity.PartLine {
	parts := make([]entity.PartLine, 0)
	for _, line := range strings.Split(text, "\n") {
		if invoiceNumber != "" && strings.Contains(line, invoiceNumber) {
			continue
		}
		if roNumber != "" && strings.Contains(line, roNumber) {
			continue
		}
		number := rePartNumber.FindString(line)
		amount := rePartAmount.FindStringSubmatch(line)
		if number == "" || amount == nil {
			continue
		}

		description := strings.Replace(line, number, "", 1)
		description = strings.Replace(description, amount[0], "", 1)

		parts = append(parts, entity.PartLine{
			PartNumber:  number,
			Description: strings.TrimSpace(description),
			Price:       parseAmount(amount[1]),
		})
	}
	return parts
}

// parseAmount parses a matched currency group ("1,245.00") into a
// non-negative decimal, defaulting to zero when unparsable.
func parseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}
