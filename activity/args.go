package activity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jlevesy/chaosgcp/gcp"
)

// Keys accepted by every activity, targeting another project or region for
// one call.
const (
	argProjectID = "project_id"
	argRegion    = "region"
)

func decodeArgs(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return gcp.ActivityFailed(fmt.Sprintf("invalid activity arguments: %s", err))
	}

	return nil
}

// splitOverrides removes the project and region overrides out of raw.
func splitOverrides(raw json.RawMessage) (json.RawMessage, string, string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return raw, "", "", nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, "", "", gcp.ActivityFailed(fmt.Sprintf("invalid activity arguments: %s", err))
	}

	projectID, err := popString(fields, argProjectID)
	if err != nil {
		return nil, "", "", err
	}

	region, err := popString(fields, argRegion)
	if err != nil {
		return nil, "", "", err
	}

	if fields == nil {
		return raw, projectID, region, nil
	}

	rest, err := json.Marshal(fields)
	if err != nil {
		return nil, "", "", fmt.Errorf("encoding activity arguments: %w", err)
	}

	return rest, projectID, region, nil
}

func popString(fields map[string]json.RawMessage, key string) (string, error) {
	value, ok := fields[key]
	if !ok {
		return "", nil
	}

	delete(fields, key)

	var s *string
	if err := json.Unmarshal(value, &s); err != nil {
		return "", gcp.ActivityFailed(fmt.Sprintf("invalid %s: %s", key, err))
	}

	if s == nil {
		return "", nil
	}

	return *s, nil
}

// seconds is a duration given as a number of seconds, or as a duration
// string such as "2m".
type seconds time.Duration

func (s *seconds) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		if n < 0 {
			return fmt.Errorf("negative duration %v", n)
		}

		*s = seconds(time.Duration(n * float64(time.Second)))
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("duration must be a number of seconds or a string: %w", err)
	}

	d, err := time.ParseDuration(str)
	if err != nil {
		return err
	}

	*s = seconds(d)

	return nil
}

// labelFilters is a label set given as an object, or as a "k=v,k2=v2" string.
type labelFilters map[string]string

func (l *labelFilters) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err == nil {
		*l = m
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("label filters must be an object or a string: %w", err)
	}

	filters := make(labelFilters)

	for _, pair := range strings.Split(str, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("malformed label filter %q", pair)
		}

		filters[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	*l = filters

	return nil
}

// fieldList is a list given as an array, or as a comma separated string.
type fieldList []string

func (f *fieldList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("fields must be a list or a string: %w", err)
	}

	var fields fieldList

	for _, field := range strings.Split(str, ",") {
		if field = strings.TrimSpace(field); field != "" {
			fields = append(fields, field)
		}
	}

	*f = fields

	return nil
}
