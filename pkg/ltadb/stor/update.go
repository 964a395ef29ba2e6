package stor

import (
	"time"

	"github.com/pkg/errors"

	"github.com/wipac/lta/pkg/ltadb/ltamodel"
)

// EntityUpdate is a partial update to a bundle or transfer request, keyed by
// wire field names. When Claimant is set the update is fenced: it only
// applies while that claimant still holds the claim.
type EntityUpdate struct {
	Claimant string
	Fields   map[string]any
}

// NewEntityUpdate splits a decoded PATCH body into the fence value and the
// field updates. The claimant key itself never lands in a column through
// Fields; claim ownership changes only through POP and explicit release.
func NewEntityUpdate(body map[string]any) EntityUpdate {
	update := EntityUpdate{Fields: make(map[string]any)}
	for key, value := range body {
		if key == "claimant" {
			update.Claimant, _ = value.(string)
			continue
		}
		if key == "uuid" {
			continue
		}
		update.Fields[key] = value
	}

	return update
}

var bundleUpdatableFields = map[string]bool{
	"status":                  true,
	"reason":                  true,
	"original_status":         true,
	"verified":                true,
	"claimed":                 true,
	"claim_timestamp":         true,
	"bundle_path":             true,
	"size":                    true,
	"file_count":              true,
	"checksum":                true,
	"work_priority_timestamp": true,
	"transfer_reference":      true,
}

var requestUpdatableFields = map[string]bool{
	"status":                  true,
	"reason":                  true,
	"original_status":         true,
	"claimed":                 true,
	"claim_timestamp":         true,
	"work_priority_timestamp": true,
}

// bundleColumnUpdates translates wire fields into column assignments,
// enforcing checksum immutability against the current row and the claim
// invariant (claimed=false clears claimant and claim_timestamp).
func bundleColumnUpdates(current *ltamodel.Bundle, update EntityUpdate, now time.Time) (map[string]any, error) {
	cols := map[string]any{"update_timestamp": now}

	for key, value := range update.Fields {
		if !bundleUpdatableFields[key] {
			return nil, errors.Wrapf(ErrInvalidUpdate, "unknown bundle field %q", key)
		}

		switch key {
		case "status", "reason", "original_status", "bundle_path", "transfer_reference":
			s, err := stringValue(value)
			if err != nil {
				return nil, errors.Wrapf(err, "field %q", key)
			}
			cols[key] = s
		case "verified", "claimed":
			b, ok := value.(bool)
			if !ok {
				return nil, errors.Wrapf(ErrInvalidUpdate, "field %q is not a bool", key)
			}
			cols[key] = b
		case "size", "file_count":
			n, err := intValue(value)
			if err != nil {
				return nil, errors.Wrapf(err, "field %q", key)
			}
			cols[key] = n
		case "claim_timestamp", "work_priority_timestamp":
			ts, err := timeValue(value)
			if err != nil {
				return nil, errors.Wrapf(err, "field %q", key)
			}
			cols[key] = ts
		case "checksum":
			checksumCols, err := checksumColumnUpdates(current, value)
			if err != nil {
				return nil, err
			}
			for col, v := range checksumCols {
				cols[col] = v
			}
		}
	}

	if claimed, ok := cols["claimed"]; ok && claimed == false {
		cols["claimant"] = ""
		cols["claim_timestamp"] = nil
	}

	return cols, nil
}

func requestColumnUpdates(update EntityUpdate, now time.Time) (map[string]any, error) {
	cols := map[string]any{"update_timestamp": now}

	for key, value := range update.Fields {
		if !requestUpdatableFields[key] {
			return nil, errors.Wrapf(ErrInvalidUpdate, "unknown transfer request field %q", key)
		}

		switch key {
		case "status", "reason", "original_status":
			s, err := stringValue(value)
			if err != nil {
				return nil, errors.Wrapf(err, "field %q", key)
			}
			cols[key] = s
		case "claimed":
			b, ok := value.(bool)
			if !ok {
				return nil, errors.Wrapf(ErrInvalidUpdate, "field %q is not a bool", key)
			}
			cols[key] = b
		case "claim_timestamp", "work_priority_timestamp":
			ts, err := timeValue(value)
			if err != nil {
				return nil, errors.Wrapf(err, "field %q", key)
			}
			cols[key] = ts
		}
	}

	if claimed, ok := cols["claimed"]; ok && claimed == false {
		cols["claimant"] = ""
		cols["claim_timestamp"] = nil
	}

	return cols, nil
}

// checksumColumnUpdates enforces immutability: a digest may be set once and
// re-sent with the same value, never altered.
func checksumColumnUpdates(current *ltamodel.Bundle, value any) (map[string]any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, errors.Wrap(ErrInvalidUpdate, "field \"checksum\" is not an object")
	}

	cols := make(map[string]any)
	for algo, digestValue := range m {
		digest, ok := digestValue.(string)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidUpdate, "checksum %q is not a string", algo)
		}

		switch algo {
		case "sha512":
			if current.Checksum.SHA512 != "" && current.Checksum.SHA512 != digest {
				return nil, errors.Wrap(ErrChecksumImmutable, "sha512")
			}
			cols["checksum_sha512"] = digest
		case "adler32":
			if current.Checksum.Adler32 != "" && current.Checksum.Adler32 != digest {
				return nil, errors.Wrap(ErrChecksumImmutable, "adler32")
			}
			cols["checksum_adler32"] = digest
		default:
			return nil, errors.Wrapf(ErrInvalidUpdate, "unknown checksum algorithm %q", algo)
		}
	}

	return cols, nil
}

// stringValue accepts a string or JSON null; null clears the field.
func stringValue(value any) (string, error) {
	if value == nil {
		return "", nil
	}
	s, ok := value.(string)
	if !ok {
		return "", errors.Wrap(ErrInvalidUpdate, "not a string")
	}
	return s, nil
}

// intValue accepts the numeric shapes JSON decoding produces.
func intValue(value any) (int64, error) {
	switch n := value.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, errors.Wrap(ErrInvalidUpdate, "not a number")
	}
}

// timeValue accepts an RFC3339 string, a time.Time, or JSON null.
func timeValue(value any) (*time.Time, error) {
	switch t := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		utc := t.UTC()
		return &utc, nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return nil, errors.Wrap(ErrInvalidUpdate, "not an RFC3339 timestamp")
		}
		utc := parsed.UTC()
		return &utc, nil
	default:
		return nil, errors.Wrap(ErrInvalidUpdate, "not a timestamp")
	}
}
