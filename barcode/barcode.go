// Package barcode decodes the drum labels printed at order time.
//
// A label reads "<order_id>-H<drum_id>", optionally followed by whitespace and
// the print timestamp "YYYY/MM/DD HH:MM:SS".
package barcode

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidFormat = errors.New("invalid barcode format")

const timestampLayout = "2006/01/02 15:04:05"

var pattern = regexp.MustCompile(`^(\d+)-H(\d+)(\s+\d{4}/\d{2}/\d{2}\s+\d{2}:\d{2}:\d{2})?$`)

type Scan struct {
	OrderId int
	DrumId  int
	// ScannedAt is the label's own timestamp; informational only.
	ScannedAt *time.Time
}

func Decode(raw string) (Scan, error) {
	m := pattern.FindStringSubmatch(raw)
	if m == nil {
		return Scan{}, ErrInvalidFormat
	}
	orderId, err := strconv.Atoi(m[1])
	if err != nil {
		return Scan{}, fmt.Errorf("%w: order id: %v", ErrInvalidFormat, err)
	}
	drumId, err := strconv.Atoi(m[2])
	if err != nil {
		return Scan{}, fmt.Errorf("%w: drum id: %v", ErrInvalidFormat, err)
	}

	s := Scan{OrderId: orderId, DrumId: drumId}
	if ts := strings.Join(strings.Fields(m[3]), " "); ts != "" {
		// The regex admits impossible dates like 2024/13/40; those are dropped, not rejected.
		if at, perr := time.ParseInLocation(timestampLayout, ts, time.Local); perr == nil {
			s.ScannedAt = &at
		}
	}
	return s, nil
}

func Encode(orderId, drumId int) string {
	return fmt.Sprintf("%d-H%d", orderId, drumId)
}
