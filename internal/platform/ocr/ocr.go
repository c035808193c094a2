// Package ocr turns a photographed ID card into the four raw intake strings.
// Results are suggestions only: callers must run them through registration
// validation before anything is persisted.
package ocr

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

var (
	ErrNoEngine   = errors.New("ocr engine not configured")
	ErrEmptyImage = errors.New("image is empty")
)

// Recognizer extracts text from an image.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Fields are the raw values lifted from recognized text.
type Fields struct {
	LastName   string `json:"pat_lastname"`
	FirstName  string `json:"pat_firstname"`
	MiddleName string `json:"pat_middlename"`
	BirthDate  string `json:"pat_birthdate"`
	RawText    string `json:"raw_text"`
}

var (
	datePattern  = regexp.MustCompile(`(19|20)\d{2}[/-]\d{2}[/-]\d{2}`)
	dateSplitter = regexp.MustCompile(`[/-]`)
)

// ParseText reads the name from the first line containing a comma
// ("LAST, FIRST MIDDLE") and the birthdate from the first year-first date,
// returned as YYYY-MM-DD.
func ParseText(text string) Fields {
	f := Fields{RawText: text}

	lines := lo.Compact(lo.Map(strings.Split(text, "\n"), func(l string, _ int) string {
		return strings.TrimSpace(l)
	}))

	if nameLine, ok := lo.Find(lines, func(l string) bool { return strings.Contains(l, ",") }); ok {
		parts := strings.SplitN(nameLine, ",", 2)
		f.LastName = strings.TrimSpace(parts[0])
		if len(parts) > 1 {
			given := strings.Fields(parts[1])
			if len(given) > 0 {
				f.FirstName = given[0]
			}
			if len(given) > 1 {
				f.MiddleName = given[1]
			}
		}
	}

	if m := datePattern.FindString(text); m != "" {
		ymd := dateSplitter.Split(m, 3)
		f.BirthDate = ymd[0] + "-" + ymd[1] + "-" + ymd[2]
	}

	return f
}

// Disabled is the Recognizer used when no engine is configured.
type Disabled struct{}

func (Disabled) Recognize(context.Context, []byte) (string, error) {
	return "", ErrNoEngine
}
