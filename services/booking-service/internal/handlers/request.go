package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const dateLayout = time.DateOnly

// flexID is an id field that accepts a JSON number or a numeric string.
// Absent, null and empty values decode to 0; anything that is not a whole
// number decodes to -1 so callers can tell "missing" from "malformed".
type flexID int64

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*f = 0
			return nil
		}
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		fl, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || fl != float64(int64(fl)) {
			*f = -1
			return nil
		}
		n = int64(fl)
	}
	*f = flexID(n)
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("ymd", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(dateLayout, fl.Field().String())
		return err == nil
	})
	return v
}

var errBadJSON = errors.New("invalid json body")

// decodeJSON reads a JSON object body. An empty body decodes to the zero
// value so required-field validation reports the missing fields.
func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errBadJSON
	}
	return nil
}

// pathID parses a positive integer path parameter.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type reserveBody struct {
	SlotID       flexID `json:"slot_id" validate:"required"`
	PatientName  string `json:"patient_name" validate:"required"`
	PatientPhone string `json:"patient_phone" validate:"required"`
	Notes        string `json:"notes"`
}

type rescheduleBody struct {
	AppointmentID flexID `json:"appointment_id" validate:"required"`
	NewSlotID     flexID `json:"new_slot_id" validate:"required"`
}

type loginBody struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type phoneQuery struct {
	Phone string `validate:"required"`
	From  string `validate:"omitempty,ymd"`
	To    string `validate:"omitempty,ymd"`
}

type adminQuery struct {
	Date   string `validate:"omitempty,ymd"`
	From   string `validate:"omitempty,ymd"`
	To     string `validate:"omitempty,ymd"`
	Status string
	Phone  string
}

func trimAll(values ...*string) {
	for _, v := range values {
		*v = strings.TrimSpace(*v)
	}
}
