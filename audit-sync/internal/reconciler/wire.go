package reconciler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/apperr"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
)

// text is a trimmed string. Field clients send some identifiers as numbers,
// so numbers are accepted and kept in their textual form.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = text(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*t = text(n.String())
		return nil
	}
	return &json.UnmarshalTypeError{Value: "non-string", Type: reflect.TypeOf("")}
}

func (t text) String() string { return string(t) }

// optional records whether a key was present at all, so an explicit null can
// clear a value while an absent key leaves it alone.
type optional[T any] struct {
	Set   bool
	Value *T
}

func (o *optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

type batchRequest struct {
	DeviceID text            `json:"device_id" validate:"required"`
	Catalog  *catalogRequest `json:"catalog"`
	Audits   []auditEntry    `json:"audits" validate:"dive"`
}

type catalogRequest struct {
	Buildings []buildingEntry `json:"buildings" validate:"dive"`
	Elevators []elevatorEntry `json:"elevators" validate:"dive"`
}

type buildingEntry struct {
	ClientID text `json:"client_id" validate:"required"`
	Address  text `json:"address" validate:"required"`
	Entrance text `json:"entrance"`
	Notes    text `json:"notes"`
}

type elevatorEntry struct {
	ClientID         text   `json:"client_id" validate:"required"`
	Identifier       text   `json:"identifier" validate:"required"`
	Description      text   `json:"description"`
	Status           text   `json:"status" validate:"omitempty,oneof=in_service out_of_service under_maintenance decommissioned"`
	BuildingID       *int64 `json:"building_id" validate:"required_without=BuildingClientID"`
	BuildingClientID text   `json:"building_client_id"`
}

type auditEntry struct {
	ClientID         text                             `json:"client_id" validate:"required"`
	ID               *int64                           `json:"id"`
	ElevatorID       *int64                           `json:"elevator_id" validate:"required_without_all=ID ElevatorClientID"`
	ElevatorClientID text                             `json:"elevator_client_id"`
	ObjectInfo       optional[map[string]interface{}] `json:"object_info"`
	PlannedDate      optional[text]                   `json:"planned_date"`
	StartedAt        optional[text]                   `json:"started_at"`
	FinishedAt       optional[text]                   `json:"finished_at"`
	Status           optional[text]                   `json:"status"`
	Responses        []responseEntry                  `json:"responses" validate:"dive"`
}

type responseEntry struct {
	ClientID   text   `json:"client_id" validate:"required"`
	ID         *int64 `json:"id"`
	QuestionID *int64 `json:"question_id" validate:"required"`
	Score      *int   `json:"score" validate:"required"`
	Comment    text   `json:"comment"`
	IsFlagged  bool   `json:"is_flagged"`
}

type attachmentRequest struct {
	DeviceID   text            `json:"device_id" validate:"required"`
	Attachment *attachmentMeta `json:"attachment" validate:"required"`
}

type attachmentMeta struct {
	ResponseID  *int64 `json:"response_id" validate:"required"`
	Caption     text   `json:"caption"`
	OfflineUUID text   `json:"offline_uuid" validate:"omitempty,uuid"`
}

type idMapping struct {
	ClientID string `json:"client_id"`
	ID       int64  `json:"id"`
}

type auditMapping struct {
	ClientID  string      `json:"client_id"`
	ID        int64       `json:"id"`
	Responses []idMapping `json:"responses"`
}

type catalogMapping struct {
	Buildings []idMapping `json:"buildings"`
	Elevators []idMapping `json:"elevators"`
}

type batchResult struct {
	Status   string         `json:"status"`
	DeviceID string         `json:"device_id"`
	Catalog  catalogMapping `json:"catalog"`
	Audits   []auditMapping `json:"audits"`
}

func newBatchResult(deviceID string) batchResult {
	return batchResult{
		Status:   "ok",
		DeviceID: deviceID,
		Catalog:  catalogMapping{Buildings: []idMapping{}, Elevators: []idMapping{}},
		Audits:   []auditMapping{},
	}
}

type attachmentRef struct {
	ID          int64   `json:"id"`
	ResponseID  int64   `json:"response_id"`
	OfflineUUID *string `json:"offline_uuid"`
}

type attachmentResult struct {
	Status     string        `json:"status"`
	DeviceID   string        `json:"device_id"`
	Attachment attachmentRef `json:"attachment"`
	Duplicate  bool          `json:"duplicate,omitempty"`
}

func newAttachmentResult(deviceID string, att models.AuditAttachment, duplicate bool) attachmentResult {
	ref := attachmentRef{ID: att.ID, ResponseID: att.ResponseID}
	if att.OfflineUUID != nil {
		s := att.OfflineUUID.String()
		ref.OfflineUUID = &s
	}
	return attachmentResult{Status: "ok", DeviceID: deviceID, Attachment: ref, Duplicate: duplicate}
}

// envelope decodes raw into a generic object and extracts the device id.
// Nothing is recorded for requests that fail here since there is no device
// to attribute them to.
func envelope(raw []byte) (map[string]interface{}, string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, "", fmt.Errorf("%w: %v", apperr.ErrInvalidJSON, err)
	}
	obj, ok := tree.(map[string]interface{})
	if !ok {
		return nil, "", apperr.Malformed("payload", "expected a JSON object")
	}
	var device string
	switch v := obj["device_id"].(type) {
	case string:
		device = strings.TrimSpace(v)
	case json.Number:
		device = v.String()
	}
	if device == "" {
		return nil, "", apperr.Malformed("device_id", "device_id is required")
	}
	return obj, device, nil
}

// decodeInto maps type mismatches onto field level payload errors.
func decodeInto(raw []byte, v interface{}) error {
	err := json.Unmarshal(raw, v)
	if err == nil {
		return nil
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "payload"
		}
		return apperr.Malformed(field, fmt.Sprintf("expected %s", describeType(typeErr.Type)))
	}
	return apperr.Malformed("payload", err.Error())
}

func describeType(t reflect.Type) string {
	if t == nil {
		return "a different type"
	}
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Int, reflect.Int64, reflect.Int32:
		return "an integer"
	case reflect.Bool:
		return "a boolean"
	case reflect.Map, reflect.Struct:
		return "an object"
	case reflect.Slice:
		return "a list"
	}
	return t.String()
}

// compact keeps only the identifiers of a data batch so the ledger stays
// small but still shows which entries a batch touched.
func compact(tree map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{"kind": "data"}
	if audits, ok := tree["audits"].([]interface{}); ok {
		list := []interface{}{}
		for _, item := range audits {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			list = append(list, map[string]interface{}{
				"client_id": stringify(entry["client_id"]),
				"id":        entry["id"],
			})
		}
		out["audits"] = list
	}
	if catalog, ok := tree["catalog"].(map[string]interface{}); ok {
		c := map[string]interface{}{}
		for _, key := range []string{"buildings", "elevators"} {
			items, ok := catalog[key].([]interface{})
			if !ok {
				continue
			}
			list := []interface{}{}
			for _, item := range items {
				if entry, ok := item.(map[string]interface{}); ok {
					list = append(list, map[string]interface{}{"client_id": stringify(entry["client_id"])})
				}
			}
			c[key] = list
		}
		out["catalog"] = c
	}
	return out
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return fmt.Sprint(t)
	}
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseDateTime reads the timestamp formats field clients produce. Values
// without an offset are taken as UTC. Empty input means no value.
func parseDateTime(field string, v *text) (*time.Time, error) {
	if v == nil || *v == "" {
		return nil, nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, string(*v)); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, apperr.Invalid(field, "invalid date and time format")
}

func parseDate(field string, v *text) (*time.Time, error) {
	if v == nil || *v == "" {
		return nil, nil
	}
	t, err := time.Parse(models.DateLayout, string(*v))
	if err != nil {
		return nil, apperr.Invalid(field, "invalid date format, expected YYYY-MM-DD")
	}
	return &t, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationFields converts validator output into field level messages keyed
// by the path inside the request, e.g. "catalog.buildings[0].address".
func validationFields(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &apperr.ValidationError{Code: apperr.CodeValidation}
	for _, fe := range verrs {
		path := fe.Namespace()
		if i := strings.Index(path, "."); i >= 0 {
			path = path[i+1:]
		}
		out.Add(path, message(fe))
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "required_without", "required_without_all":
		return "this field or its client id reference is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "uuid":
		return "must be a valid UUID"
	}
	return fmt.Sprintf("failed the %s check", fe.Tag())
}
