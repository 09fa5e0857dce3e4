package store

import (
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
)

// applyFields returns raw with fields set at the top level.
func applyFields(raw bson.Raw, fields bson.M) (bson.Raw, error) {
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	for k, v := range fields {
		m[k] = v
	}
	out, err := bson.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return out, nil
}

// matches implements the equality-only filter shared by the memory and
// postgres backends.
func matches(raw bson.Raw, filter bson.M) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return false, fmt.Errorf("decode document: %w", err)
	}
	for k, want := range filter {
		got, ok := m[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false, nil
		}
	}
	return true, nil
}

// decodeAll decodes the raws accepted by filter into out (*[]T).
func decodeAll(raws []bson.Raw, filter bson.M, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("store: out must be a pointer to a slice, got %T", out)
	}
	slice := rv.Elem()
	elemType := slice.Type().Elem()
	result := reflect.MakeSlice(slice.Type(), 0, len(raws))

	for _, raw := range raws {
		ok, err := matches(raw, filter)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		ptr := reflect.New(elemType)
		if err := bson.Unmarshal(raw, ptr.Interface()); err != nil {
			return fmt.Errorf("decode document: %w", err)
		}
		result = reflect.Append(result, ptr.Elem())
	}
	slice.Set(result)
	return nil
}
