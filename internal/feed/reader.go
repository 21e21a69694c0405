// Package feed reads orders from a line-oriented text stream. Each line
// carries four integers: account id, amount, price and a side flag where
// 1 is buy and 0 is sell.
package feed

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Yusufzhafir/go-limitbook/pkg/model"
)

const (
	SideSell = 0
	SideBuy  = 1
)

// LineError reports a line that could not be turned into an order. The
// reader stays usable after returning one.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

type Reader struct {
	scanner *bufio.Scanner
	line    int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{scanner: bufio.NewScanner(r)}
}

// Next returns the next order, a *LineError for a malformed line, or io.EOF.
func (r *Reader) Next() (model.Order, error) {
	for r.scanner.Scan() {
		r.line++
		text := strings.TrimSpace(r.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		order, err := ParseLine(text)
		if err != nil {
			return model.Order{}, &LineError{Line: r.line, Text: text, Err: err}
		}
		return order, nil
	}
	if err := r.scanner.Err(); err != nil {
		return model.Order{}, err
	}
	return model.Order{}, io.EOF
}

// ParseLine parses "id amount price side". Field-level validation beyond
// integer syntax is left to the engine.
func ParseLine(text string) (model.Order, error) {
	fields := strings.Fields(text)
	if len(fields) != 4 {
		return model.Order{}, fmt.Errorf("%w: want 4 fields, got %d", model.ErrMalformedInput, len(fields))
	}
	var nums [4]int64
	for i, f := range fields {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return model.Order{}, fmt.Errorf("%w: field %d: %v", model.ErrMalformedInput, i+1, err)
		}
		nums[i] = n
	}

	var side model.Side
	switch nums[3] {
	case SideBuy:
		side = model.BID
	case SideSell:
		side = model.ASK
	default:
		return model.Order{}, fmt.Errorf("%w: side flag must be 0 or 1, got %d", model.ErrMalformedInput, nums[3])
	}
	return model.NewOrder(model.AccountId(nums[0]), side, model.Price(nums[2]), model.Quantity(nums[1])), nil
}
