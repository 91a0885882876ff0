package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"villagepay.org/internal/apperr"
)

// Period is the month a statement covers. Key() is the only value used for ordering;
// Label() is for display.
type Period struct {
	Year  int
	Month time.Month
}

// ParsePeriod accepts "January 2024" (month name in any case) or "2024-01".
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Period{}, fmt.Errorf("%w: coverage period is required", apperr.ErrValidation)
	}
	if t, err := time.Parse("2006-01", s); err == nil {
		return Period{Year: t.Year(), Month: t.Month()}, nil
	}
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Period{}, fmt.Errorf("%w: coverage period %q must look like \"January 2024\"", apperr.ErrValidation, s)
	}
	month, ok := monthByName[strings.ToLower(fields[0])]
	if !ok {
		return Period{}, fmt.Errorf("%w: unknown month %q", apperr.ErrValidation, fields[0])
	}
	year, err := strconv.Atoi(fields[1])
	if err != nil || year < 1970 || year > 9999 {
		return Period{}, fmt.Errorf("%w: invalid year %q", apperr.ErrValidation, fields[1])
	}
	return Period{Year: year, Month: month}, nil
}

var monthByName = func() map[string]time.Month {
	m := make(map[string]time.Month, 12)
	for i := time.January; i <= time.December; i++ {
		m[strings.ToLower(i.String())] = i
	}
	return m
}()

// Key is the sortable form, e.g. "2024-01".
func (p Period) Key() string { return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month)) }

// Label is the display form, e.g. "January 2024".
func (p Period) Label() string { return fmt.Sprintf("%s %d", p.Month, p.Year) }

// Date is the first instant of the period in UTC.
func (p Period) Date() time.Time { return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC) }

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

func (p Period) Before(o Period) bool { return p.Key() < o.Key() }

func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Key   string `json:"key"`
		Label string `json:"label"`
	}{Key: p.Key(), Label: p.Label()})
}

// UnmarshalJSON reads the object MarshalJSON writes, or a bare period string.
// The key decides the value; the label is ignored.
func (p *Period) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var obj struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("%w: coverage period must be an object or string", apperr.ErrValidation)
		}
		raw = obj.Key
	}
	parsed, err := ParsePeriod(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
