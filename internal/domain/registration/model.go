package registration

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// RawIntake is the four fields as submitted, before sanitation.
type RawIntake struct {
	LastName   string
	FirstName  string
	MiddleName string
	BirthDate  string
}

// IntakeRecord is a validated intake: names upper-cased and stripped to
// letters, spaces, hyphens and apostrophes; birthdate as MM/DD/YYYY.
type IntakeRecord struct {
	LastName   string
	FirstName  string
	MiddleName string
	BirthDate  string
}

// Period is the registration month that scopes identifier numbering.
type Period struct {
	Year  int
	Month time.Month
}

func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// PatientIdentifier has the form PID<YYYY><MM><NNNN>.
type PatientIdentifier string

// MaxSequence is the last number a period can hand out.
const MaxSequence = 9999

// FormatIdentifier composes the identifier for the seq-th registration of p.
func FormatIdentifier(p Period, seq int) (PatientIdentifier, error) {
	if seq < 1 {
		return "", fmt.Errorf("sequence %d out of range", seq)
	}
	if seq > MaxSequence {
		return "", fmt.Errorf("%w: period %s reached %d", ErrSequenceExhausted, p, seq)
	}
	return PatientIdentifier(fmt.Sprintf("PID%04d%02d%04d", p.Year, int(p.Month), seq)), nil
}

var identifierPattern = regexp.MustCompile(`^PID(\d{4})(0[1-9]|1[0-2])(\d{4})$`)

// ParseIdentifier splits an identifier into its period and sequence.
func ParseIdentifier(s string) (Period, int, error) {
	m := identifierPattern.FindStringSubmatch(s)
	if m == nil {
		return Period{}, 0, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	seq, _ := strconv.Atoi(m[3])
	if seq == 0 {
		return Period{}, 0, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return Period{Year: year, Month: time.Month(month)}, seq, nil
}

// PatientRow is the persisted registration.
type PatientRow struct {
	Identifier PatientIdentifier `json:"identifier"`
	Period     Period            `json:"-"`
	Sequence   int               `json:"-"`
	LastName   string            `json:"pat_lastname"`
	FirstName  string            `json:"pat_firstname"`
	MiddleName string            `json:"pat_middlename"`
	BirthDate  string            `json:"pat_birthdate"`
	CreatedAt  time.Time         `json:"created_at"`
}
