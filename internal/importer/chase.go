package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ChaseParser reads Chase checking account exports:
//
//	Details,Posting Date,Description,Amount,Type,Balance,Check or Slip #
type ChaseParser struct{}

var chaseColumns = []string{"Details", "Posting Date", "Description", "Amount", "Type", "Balance", "Check or Slip #"}

const (
	chaseDateLayout = "01/02/2006"
	colChaseDate    = 1
	colChaseDesc    = 2
	colChaseAmount  = 3
	colChaseType    = 4
)

func (*ChaseParser) Format() string { return "chase" }

// Detect reports whether header is a Chase export header.
func (*ChaseParser) Detect(header []string) bool {
	if len(header) != len(chaseColumns) {
		return false
	}
	for i, c := range chaseColumns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), c) {
			return false
		}
	}
	return true
}

func (p *ChaseParser) Parse(r io.Reader) ([]Transaction, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(chaseColumns)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading chase CSV: %w", err)
	}
	if !p.Detect(header) {
		return nil, fmt.Errorf("reading chase CSV: unexpected header %q", strings.Join(header, ","))
	}

	var txns []Transaction
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return txns, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading chase CSV: %w", err)
		}
		t, err := chaseTransaction(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		txns = append(txns, t)
	}
}

func chaseTransaction(rec []string) (Transaction, error) {
	raw := strings.TrimSpace(rec[colChaseDate])
	date, err := time.Parse(chaseDateLayout, raw)
	if err != nil {
		return Transaction{}, fmt.Errorf("parsing date %q: %w", raw, err)
	}
	raw = strings.TrimSpace(rec[colChaseAmount])
	amt, err := decimal.NewFromString(raw)
	if err != nil {
		return Transaction{}, fmt.Errorf("parsing amount %q: %w", raw, err)
	}
	desc := strings.TrimSpace(rec[colChaseDesc])
	return Transaction{
		Date:        date,
		Description: desc,
		Amount:      amt,
		Reference:   Reference("chase", date, desc),
		Type:        strings.TrimSpace(rec[colChaseType]),
	}, nil
}
