// Package record defines the atomic unit of ingestion and storage: one
// chat-message event, plus the pure normalization helpers the Ingestion
// Engine runs over raw producer payloads before they are grouped by
// partition and written to columnar files.
package record

import (
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// Record is the columnar on-disk schema of one message event. Field
// order matches the on-disk column order; parquet-go writes each field
// under the name given by its struct tag, so this struct IS the wire
// format.
type Record struct {
	RecordID      string `parquet:"record_id,dict"`
	Sender        string `parquet:"sender,dict"`
	Recipient     string `parquet:"recipient,dict"`
	GroupID       string `parquet:"group_id,dict"`
	GroupSender   string `parquet:"group_sender,dict"`
	Kind          int32  `parquet:"kind"`
	EventTime     int64  `parquet:"event_time,timestamp"`
	IsGroup       int8   `parquet:"is_group"`
	Content       string `parquet:"content,dict"`
	Desc          string `parquet:"desc,dict"`
	Source        string `parquet:"source,dict"`
	EventID       string `parquet:"event_id,dict"`
	NotifyKind    int32  `parquet:"notify_kind"`
	IngestionTime int64  `parquet:"ingestion_time,timestamp"`
}

// Raw is a loosely-typed producer payload as decoded from one intake JSON
// line, before coercion. Producers are not trusted to send the declared
// types literally (source may arrive as a JSON number), so values are
// carried as interface{} until Clean resolves them.
type Raw map[string]interface{}

// RequiredFields lists the fields the record model treats as required.
// Clean skips a payload whose record_id, sender, recipient or event_time
// is missing or empty; a missing event_id is filled with "" and the
// payload is kept.
var RequiredFields = []string{"record_id", "sender", "recipient", "event_time", "event_id"}

// UnwrapEnvelope copies the nested "data" object up to the top level when
// the outer object has no record_id of its own — some producers wrap the
// payload and can leave event_id/notify_kind alongside it at the outer
// level.
func UnwrapEnvelope(raw Raw) Raw {
	if _, hasID := raw["record_id"]; hasID {
		return raw
	}
	inner, ok := raw["data"].(map[string]interface{})
	if !ok {
		return raw
	}
	merged := Raw{}
	for k, v := range inner {
		merged[k] = v
	}
	for _, carried := range []string{"event_id", "notify_kind"} {
		if _, present := merged[carried]; !present {
			if v, ok := raw[carried]; ok {
				merged[carried] = v
			}
		}
	}
	return merged
}

// CleanResult is the outcome of normalizing one raw payload.
type CleanResult struct {
	Record Record
	Err    *SkipError
}

// SkipKind taxonomizes why a record was skipped during cleaning, so
// skip logs and metrics can be broken down by cause.
type SkipKind string

const (
	SkipParseError      SkipKind = "parse_error"
	SkipValidationError SkipKind = "validation_error"
	SkipSchemaError     SkipKind = "schema_error"
)

// SkipError describes why a record was dropped during cleaning.
type SkipError struct {
	Kind   SkipKind
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Clean normalizes one envelope-unwrapped raw payload into a Record,
// coercing loosely-typed fields and rejecting payloads that lack a
// record_id, sender, recipient or positive event_time (a missing
// event_id becomes ""). Dedup and ingestion_time stamping are batch-level
// concerns handled by the caller, not here.
func Clean(raw Raw) CleanResult {
	for _, f := range []string{"record_id", "sender", "recipient", "event_id"} {
		if s, ok := stringField(raw, f); !ok || s == "" {
			if _, present := raw[f]; !present {
				raw[f] = ""
			}
		}
	}

	recordID, _ := stringField(raw, "record_id")
	if recordID == "" {
		return CleanResult{Err: &SkipError{Kind: SkipSchemaError, Reason: "missing record_id"}}
	}
	eventID, _ := stringField(raw, "event_id")

	eventTime, ok := coerceInt(raw["event_time"])
	if !ok {
		return CleanResult{Err: &SkipError{Kind: SkipValidationError, Reason: "event_time not coercible to integer"}}
	}
	if eventTime <= 0 {
		return CleanResult{Err: &SkipError{Kind: SkipValidationError, Reason: "event_time non-positive"}}
	}

	kind, ok := coerceIntDefault(raw["kind"], 0)
	if !ok {
		return CleanResult{Err: &SkipError{Kind: SkipValidationError, Reason: "kind not coercible to integer"}}
	}
	notifyKind, ok := coerceIntDefault(raw["notify_kind"], 0)
	if !ok {
		return CleanResult{Err: &SkipError{Kind: SkipValidationError, Reason: "notify_kind not coercible to integer"}}
	}
	isGroup, ok := coerceIntDefault(raw["is_group"], 0)
	if !ok {
		return CleanResult{Err: &SkipError{Kind: SkipValidationError, Reason: "is_group not coercible to integer"}}
	}

	sender, _ := stringField(raw, "sender")
	recipient, _ := stringField(raw, "recipient")
	if sender == "" || recipient == "" {
		return CleanResult{Err: &SkipError{Kind: SkipSchemaError, Reason: "missing sender or recipient"}}
	}

	r := Record{
		RecordID:    recordID,
		Sender:      sender,
		Recipient:   recipient,
		GroupID:     stringOrDefault(raw, "group_id", ""),
		GroupSender: stringOrDefault(raw, "group_sender", ""),
		Kind:        int32(kind),
		EventTime:   eventTime,
		IsGroup:     int8(isGroup),
		Content:     stringOrDefault(raw, "content", ""),
		Desc:        stringOrDefault(raw, "desc", ""),
		Source:      stringifySource(raw["source"]),
		EventID:     eventID,
		NotifyKind:  int32(notifyKind),
	}
	return CleanResult{Record: r}
}

// stringifySource accepts either a string or a JSON number for "source"
// and always normalizes it to string, since producers disagree on which
// they send.
func stringifySource(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func stringField(raw Raw, key string) (string, bool) {
	v, ok := raw[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func stringOrDefault(raw Raw, key, def string) string {
	if s, ok := stringField(raw, key); ok {
		return s
	}
	// Structured values that slipped through (nested map/list) are
	// serialized to a JSON string rather than dropped, so a producer
	// sending the wrong shape for a string column loses fidelity but
	// not the record.
	if v, ok := raw[key]; ok && v != nil {
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	return def
}

func coerceInt(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(t, 64)
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	default:
		return 0, false
	}
}

func coerceIntDefault(v interface{}, def int64) (int64, bool) {
	if v == nil {
		return def, true
	}
	return coerceInt(v)
}

// StampIngestionTime sets the system-added ingestion_time column to
// second-precision UTC "now".
func StampIngestionTime(r *Record, now time.Time) {
	r.IngestionTime = now.UTC().Unix()
}
