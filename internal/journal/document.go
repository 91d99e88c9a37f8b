package journal

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/ledgercore/internal/model"
)

// Document is the YAML form of a journal entry as written by hand:
//
//	date: 2025-01-15
//	description: January rent
//	lines:
//	  - account: "5.2.2"
//	    debit: 1200.00
//	  - account: bank
//	    credit: 1200.00
//
// Accounts are given by code or by an unambiguous part of the name.
type Document struct {
	Number      string         `yaml:"number,omitempty"`
	Date        string         `yaml:"date"`
	Description string         `yaml:"description"`
	Status      string         `yaml:"status,omitempty"`
	ReversalOf  string         `yaml:"reversal_of,omitempty"`
	Lines       []DocumentLine `yaml:"lines"`
}

// DocumentLine is one line of a Document. Amounts are kept as written and
// parsed as exact decimals.
type DocumentLine struct {
	Account     string `yaml:"account"`
	Debit       string `yaml:"debit,omitempty"`
	Credit      string `yaml:"credit,omitempty"`
	Rate        string `yaml:"rate,omitempty"`
	Currency    string `yaml:"currency,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Binder resolves a free-text account reference onto a line.
type Binder interface {
	BindLine(l *model.Line, query string) bool
}

// ParseDocument decodes a YAML entry document.
func ParseDocument(r io.Reader) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return Document{}, fmt.Errorf("parsing entry document: empty document")
		}
		return Document{}, fmt.Errorf("parsing entry document: %w", err)
	}
	return doc, nil
}

// Entry converts the document to a candidate entry. Account references are
// bound through b; a reference that is unknown or ambiguous leaves the line
// unbound and is returned in unresolved so the validator reports it.
func (d Document) Entry(b Binder) (entry model.JournalEntry, unresolved []string, err error) {
	entry.Description = d.Description
	entry.ReversalOf = d.ReversalOf
	if strings.TrimSpace(d.Date) != "" {
		if entry.Date, err = parseDate(strings.TrimSpace(d.Date)); err != nil {
			return model.JournalEntry{}, nil, err
		}
	}

	for i, dl := range d.Lines {
		l := model.Line{
			Currency:    strings.ToUpper(strings.TrimSpace(dl.Currency)),
			Description: dl.Description,
		}
		if l.Debit, err = parseDocAmount(i, "debit", dl.Debit); err != nil {
			return model.JournalEntry{}, nil, err
		}
		if l.Credit, err = parseDocAmount(i, "credit", dl.Credit); err != nil {
			return model.JournalEntry{}, nil, err
		}
		if l.ExchangeRate, err = parseDocAmount(i, "rate", dl.Rate); err != nil {
			return model.JournalEntry{}, nil, err
		}
		// a zero rate on a line means "unset", so a written one is refused here
		if strings.TrimSpace(dl.Rate) != "" && !l.ExchangeRate.IsPositive() {
			return model.JournalEntry{}, nil, fmt.Errorf("lines[%d].rate: %s: exchange rate %q must be positive", i, CodeRateInvalid, strings.TrimSpace(dl.Rate))
		}
		if ref := strings.TrimSpace(dl.Account); ref != "" && !b.BindLine(&l, ref) {
			unresolved = append(unresolved, ref)
			l.AccountCode = ref
		}
		entry.Lines = append(entry.Lines, l)
	}
	return entry, unresolved, nil
}

func parseDocAmount(line int, field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lines[%d].%s: invalid amount %q", line, field, raw)
	}
	return d, nil
}

// NewDocument renders an entry as a Document, referring to accounts by code.
func NewDocument(e model.JournalEntry) Document {
	doc := Document{
		Number:      e.EntryNumber,
		Date:        formatDate(e.Date),
		Description: e.Description,
		Status:      string(e.Status),
		ReversalOf:  e.ReversalOf,
	}
	for _, l := range e.Lines {
		ref := l.AccountCode
		if ref == "" {
			ref = l.AccountID
		}
		doc.Lines = append(doc.Lines, DocumentLine{
			Account:     ref,
			Debit:       formatAmount(l.Debit),
			Credit:      formatAmount(l.Credit),
			Rate:        formatAmount(l.ExchangeRate),
			Currency:    l.Currency,
			Description: l.Description,
		})
	}
	return doc
}

// WriteDocument encodes doc as YAML.
func WriteDocument(w io.Writer, doc Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding entry document: %w", err)
	}
	return enc.Close()
}
