package document

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// nativeDec decodes nested CBOR maps as map[string]any so values stay JSON-marshalable.
var nativeDec, _ = cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()

// Meta returns a copy of the metadata map stored in MetaField.
func (d *Document) Meta() map[string]any {
	raw, ok := d.Field(MetaField)
	out := make(map[string]any)
	if !ok {
		return out
	}
	_ = nativeDec.Unmarshal(raw, &out)
	return out
}

// SetMeta writes key into the metadata map as a server-origin update. It does not fire the change hook.
func (d *Document) SetMeta(key string, value any) error {
	return d.UpdateMeta(map[string]any{key: value})
}

// UpdateMeta writes several metadata keys in one update. Keys not named in values are kept, even
// when other writers update the map concurrently.
func (d *Document) UpdateMeta(values map[string]any) error {
	d.mu.Lock()
	meta := make(map[string]any)
	if e, ok := d.entries[MetaField]; ok {
		_ = nativeDec.Unmarshal(e.Value, &meta)
	}
	for k, v := range values {
		meta[k] = v
	}
	raw, err := cbor.Marshal(meta)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("document: encode meta: %w", err)
	}
	e := d.putServerLocked(MetaField, raw)
	d.mu.Unlock()

	d.broadcastEntry(e)
	return nil
}

// FromJSON converts a JSON value into the CBOR form stored in a field.
func FromJSON(data []byte) (cbor.RawMessage, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return cbor.Marshal(v)
}

// ToJSON converts a field's CBOR value back into JSON.
func ToJSON(raw cbor.RawMessage) (json.RawMessage, error) {
	var v any
	if err := nativeDec.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
