package registration

import (
	"errors"
	"fmt"
	"testing"
)

func validRaw() RawIntake {
	return RawIntake{LastName: "Dela Cruz", FirstName: "Juan", MiddleName: "", BirthDate: "02/29/2020"}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Dela Cruz", "DELA CRUZ"},
		{"o'brien-smith", "O'BRIEN-SMITH"},
		{"José", "JOS"},
		{"Juan2", "JUAN"},
		{"  Ma.  Luisa ", "MA LUISA"},
		{"123", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate_MissingNames(t *testing.T) {
	for _, empty := range []string{"", "   ", "123", "!!!", "@#$%", "\t\n"} {
		for _, field := range []string{"lastName", "firstName"} {
			raw := validRaw()
			if field == "lastName" {
				raw.LastName = empty
			} else {
				raw.FirstName = empty
			}

			_, err := Validate(raw)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("%s=%q: expected *ValidationError, got %v", field, empty, err)
			}
			if ve.Reason != ReasonMissingRequiredField || ve.Field != field {
				t.Errorf("%s=%q: got %s/%s", field, empty, ve.Reason, ve.Field)
			}
			if !errors.Is(err, ErrMissingRequiredField) {
				t.Errorf("%s=%q: expected errors.Is ErrMissingRequiredField", field, empty)
			}
		}
	}
}

func TestValidate_EmptyMiddleNameAllowed(t *testing.T) {
	raw := validRaw()
	raw.MiddleName = "42"
	rec, err := Validate(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.MiddleName != "" {
		t.Errorf("expected empty middle name, got %q", rec.MiddleName)
	}
}

func TestValidate_BirthDate(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		reason Reason
	}{
		{"03/05/2024", "03/05/2024", ""},
		{"2024-03-05", "03/05/2024", ""},
		{" 12/31/1999 ", "12/31/1999", ""},
		{"02/30/2024", "02/30/2024", ""},
		{"02/31/2023", "02/31/2023", ""},
		{"04/31/2020", "04/31/2020", ""},
		{"01/01/2099", "01/01/2099", ""},
		{"13/01/2020", "", ReasonInvalidDateFormat},
		{"00/15/2020", "", ReasonInvalidDateFormat},
		{"01/00/2020", "", ReasonInvalidDateFormat},
		{"01/32/2020", "", ReasonInvalidDateFormat},
		{"01/15/1899", "", ReasonInvalidDateFormat},
		{"01/15/2100", "", ReasonInvalidDateFormat},
		{"1/5/2020", "", ReasonInvalidDateFormat},
		{"2024/03/05", "", ReasonInvalidDateFormat},
		{"2024-13-05", "", ReasonInvalidDateFormat},
		{"March 5, 2024", "", ReasonInvalidDateFormat},
		{"", "", ReasonMissingRequiredField},
		{"   ", "", ReasonMissingRequiredField},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			raw := validRaw()
			raw.BirthDate = tt.in
			rec, err := Validate(raw)

			if tt.reason == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if rec.BirthDate != tt.want {
					t.Errorf("BirthDate = %q, want %q", rec.BirthDate, tt.want)
				}
				return
			}

			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if ve.Reason != tt.reason || ve.Field != "birthDate" {
				t.Errorf("got %s/%s, want %s/birthDate", ve.Reason, ve.Field, tt.reason)
			}
			if rec != (IntakeRecord{}) {
				t.Errorf("expected zero record on failure, got %+v", rec)
			}
		})
	}
}

// Every month 01-12, day 01-31 and year 1900-2099 is accepted; day is never
// checked against the length of its month.
func TestValidate_AcceptsWholeDateGrid(t *testing.T) {
	raw := validRaw()
	for year := 1900; year <= 2099; year++ {
		for month := 1; month <= 12; month++ {
			for day := 1; day <= 31; day++ {
				raw.BirthDate = fmt.Sprintf("%02d/%02d/%04d", month, day, year)
				if _, err := Validate(raw); err != nil {
					t.Fatalf("%s rejected: %v", raw.BirthDate, err)
				}
			}
		}
	}
}

func TestValidate_ISORoundTrip(t *testing.T) {
	iso := validRaw()
	iso.BirthDate = "2024-03-05"
	native := validRaw()
	native.BirthDate = "03/05/2024"

	fromISO, err := Validate(iso)
	if err != nil {
		t.Fatalf("iso: %v", err)
	}
	fromNative, err := Validate(native)
	if err != nil {
		t.Fatalf("native: %v", err)
	}
	if fromISO != fromNative {
		t.Errorf("round trip mismatch: %+v vs %+v", fromISO, fromNative)
	}
	if NormalizeBirthDate("2024-03-05") != "03/05/2024" {
		t.Errorf("unexpected normalization %q", NormalizeBirthDate("2024-03-05"))
	}
}

func TestValidate_NameCheckedBeforeDate(t *testing.T) {
	_, err := Validate(RawIntake{LastName: "", FirstName: "Juan", BirthDate: "bad"})
	if !errors.Is(err, ErrMissingRequiredField) {
		t.Fatalf("expected MissingRequiredField first, got %v", err)
	}
}

func TestValidate_Sanitizes(t *testing.T) {
	rec, err := Validate(RawIntake{LastName: "dela cruz", FirstName: "juan", MiddleName: "santos-reyes", BirthDate: "1990-05-14"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := IntakeRecord{LastName: "DELA CRUZ", FirstName: "JUAN", MiddleName: "SANTOS-REYES", BirthDate: "05/14/1990"}
	if rec != want {
		t.Errorf("got %+v, want %+v", rec, want)
	}
}
