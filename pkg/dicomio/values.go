package dicomio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// find returns the first element with tag t, or nil
func find(elems []*dicom.Element, t tag.Tag) *dicom.Element {
	for _, el := range elems {
		if el != nil && el.Tag == t {
			return el
		}
	}
	return nil
}

// stringValue returns the first string value of tag t, trimmed of DICOM padding
func stringValue(elems []*dicom.Element, t tag.Tag) (string, bool) {
	el := find(elems, t)
	if el == nil || el.Value == nil {
		return "", false
	}
	vals, ok := el.Value.GetValue().([]string)
	if !ok || len(vals) == 0 {
		return "", false
	}
	return strings.TrimRight(strings.TrimSpace(vals[0]), "\x00"), true
}

// floatValues parses a DS (or FD/FL) element. present is false when the
// element is missing or empty.
func floatValues(elems []*dicom.Element, t tag.Tag) (vals []float64, present bool, err error) {
	el := find(elems, t)
	if el == nil || el.Value == nil {
		return nil, false, nil
	}
	switch raw := el.Value.GetValue().(type) {
	case []string:
		if len(raw) == 0 {
			return nil, false, nil
		}
		vals = make([]float64, len(raw))
		for i, s := range raw {
			v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimRight(s, "\x00")), 64)
			if err != nil {
				return nil, true, fmt.Errorf("tag %s value %d: %w", t, i, err)
			}
			vals[i] = v
		}
	case []float64:
		vals = raw
	case []int:
		for _, v := range raw {
			vals = append(vals, float64(v))
		}
	default:
		return nil, true, fmt.Errorf("tag %s has unsupported value type %T", t, raw)
	}
	return vals, len(vals) > 0, nil
}

// intValue reads an IS, US or SS element
func intValue(elems []*dicom.Element, t tag.Tag) (v int, present bool, err error) {
	el := find(elems, t)
	if el == nil || el.Value == nil {
		return 0, false, nil
	}
	switch raw := el.Value.GetValue().(type) {
	case []int:
		if len(raw) == 0 {
			return 0, false, nil
		}
		return raw[0], true, nil
	case []string:
		if len(raw) == 0 || strings.TrimSpace(raw[0]) == "" {
			return 0, false, nil
		}
		v, err := strconv.Atoi(strings.TrimSpace(strings.TrimRight(raw[0], "\x00")))
		if err != nil {
			return 0, true, fmt.Errorf("tag %s: %w", t, err)
		}
		return v, true, nil
	default:
		return 0, true, fmt.Errorf("tag %s has unsupported value type %T", t, raw)
	}
}

// sequenceItems returns the element lists of every item of sequence t
func sequenceItems(elems []*dicom.Element, t tag.Tag) [][]*dicom.Element {
	el := find(elems, t)
	if el == nil || el.Value == nil {
		return nil
	}
	items, ok := el.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok {
		return nil
	}
	out := make([][]*dicom.Element, 0, len(items))
	for _, item := range items {
		if sub, ok := item.GetValue().([]*dicom.Element); ok {
			out = append(out, sub)
		}
	}
	return out
}
