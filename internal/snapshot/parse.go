package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Momat2023/frigo-anti-gaspi/internal/store"
)

// ParseError reports a snapshot that failed the validation gate. Preview and
// Apply both return it before touching any stored state.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid snapshot: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid snapshot: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErrorf(err error, format string, args ...any) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// record is one decoded item entry. fields keeps the raw shape for key
// extraction; item is the coerced record that would be written.
type record struct {
	fields map[string]any
	item   store.Item
}

type parsedSnapshot struct {
	exportedAt  int64
	deviceID    string
	records     []record
	settings    *store.Settings
	hasSettings bool
	history     []string
	hasHistory  bool
}

// parseSnapshot validates the wire envelope and decodes the payload. The
// gate is strict on schemaVersion and on items being an array; individual
// item shapes are tolerated and resolved later per-record.
func parseSnapshot(text []byte) (*parsedSnapshot, error) {
	var raw struct {
		SchemaVersion json.RawMessage `json:"schemaVersion"`
		ExportedAt    int64           `json:"exportedAt"`
		DeviceID      string          `json:"deviceId"`
		Items         json.RawMessage `json:"items"`
		Settings      json.RawMessage `json:"settings"`
		ScanHistory   json.RawMessage `json:"scanHistory"`
	}
	if err := json.Unmarshal(text, &raw); err != nil {
		return nil, parseErrorf(err, "not a JSON object")
	}

	if len(raw.SchemaVersion) == 0 {
		return nil, parseErrorf(nil, "missing schemaVersion")
	}
	var version int
	if err := json.Unmarshal(raw.SchemaVersion, &version); err != nil {
		return nil, parseErrorf(nil, "schemaVersion is not an integer: %s", raw.SchemaVersion)
	}
	if version != SchemaVersion {
		return nil, parseErrorf(nil, "unsupported schemaVersion %d (want %d)", version, SchemaVersion)
	}

	if !isPresent(raw.Items) {
		return nil, parseErrorf(nil, "missing items array")
	}
	var rawItems []json.RawMessage
	if err := json.Unmarshal(raw.Items, &rawItems); err != nil {
		return nil, parseErrorf(nil, "items is not an array")
	}

	parsed := &parsedSnapshot{
		exportedAt: raw.ExportedAt,
		deviceID:   raw.DeviceID,
		records:    make([]record, 0, len(rawItems)),
	}
	for _, rawItem := range rawItems {
		fields := decodeFields(rawItem)
		parsed.records = append(parsed.records, record{
			fields: fields,
			item:   itemFromFields(fields),
		})
	}

	if isPresent(raw.Settings) {
		var settings store.Settings
		if err := json.Unmarshal(raw.Settings, &settings); err != nil {
			return nil, parseErrorf(err, "settings is not an object")
		}
		parsed.settings = &settings
		parsed.hasSettings = true
	}

	if isPresent(raw.ScanHistory) {
		var entries []any
		if err := json.Unmarshal(raw.ScanHistory, &entries); err != nil {
			return nil, parseErrorf(nil, "scanHistory is not an array")
		}
		parsed.hasHistory = true
		for _, entry := range entries {
			if s, ok := entry.(string); ok {
				parsed.history = append(parsed.history, s)
			}
		}
	}

	return parsed, nil
}

func isPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// decodeFields decodes one item entry into a raw field map, keeping numbers
// as json.Number so ids survive without float rounding. Non-object entries
// yield nil, which later fails key extraction.
func decodeFields(raw json.RawMessage) map[string]any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil
	}
	return fields
}

// itemFromFields coerces a raw field map into an Item and fills derivable
// gaps. Fields of an unexpected type read as zero rather than failing the
// whole import.
func itemFromFields(fields map[string]any) store.Item {
	item := store.Item{
		ID:         scalarString(fields["id"]),
		Name:       asString(fields["name"]),
		Category:   store.Category(asString(fields["category"])),
		Location:   store.Location(asString(fields["location"])),
		Status:     store.Status(asString(fields["status"])),
		OpenedAt:   asInt(fields["openedAt"]),
		ExpiresAt:  asInt(fields["expiresAt"]),
		CreatedAt:  asInt(fields["createdAt"]),
		TargetDays: int(asInt(fields["targetDays"])),
		Barcode:    asString(fields["barcode"]),
		ImageURL:   asString(fields["imageUrl"]),
	}
	item.SetDefaults()
	return item
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int64 {
	switch x := v.(type) {
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			f, ferr := x.Float64()
			if ferr != nil {
				return 0
			}
			return int64(f)
		}
		return n
	case float64:
		return int64(x)
	default:
		return 0
	}
}

// scalarString renders a string or numeric key field as its canonical string
// form. Anything else, including empty strings, reads as absent.
func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

// compositeKeySep joins multi-field keys; a control byte cannot collide with
// key material that survived JSON encoding.
const compositeKeySep = "\x1f"

type keyFunc func(fields map[string]any) (string, bool)

// keyExtractor builds the dedup key function for the store's declared key
// path. A record missing any key field, or whose key field is not a string
// or number, has no key.
func keyExtractor(keyPath []string) keyFunc {
	return func(fields map[string]any) (string, bool) {
		parts := make([]string, 0, len(keyPath))
		for _, field := range keyPath {
			s := scalarString(fields[field])
			if s == "" {
				return "", false
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, compositeKeySep), true
	}
}
