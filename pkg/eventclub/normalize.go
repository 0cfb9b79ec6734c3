package eventclub

import (
	"bytes"

	"eventclub/pkg/model"

	"github.com/goccy/go-json"
)

type normalizer func(raw []byte) ([]byte, error)

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func object(raw []byte) (map[string]json.RawMessage, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// succeeded reports a boolean true success flag. Any other value, including
// the string "true", is not success.
func succeeded(m map[string]json.RawMessage) bool {
	v, found := m["success"]
	if !found {
		return false
	}
	var ok bool
	if err := json.Unmarshal(v, &ok); err != nil {
		return false
	}
	return ok
}

// unwrapEnvelope turns {"success":true,"data":X} into X. Anything else is
// passed through.
func unwrapEnvelope(raw []byte) ([]byte, error) {
	m, ok := object(raw)
	if !ok || !succeeded(m) {
		return raw, nil
	}
	if data, found := m["data"]; found && !isNull(data) {
		return data, nil
	}
	return raw, nil
}

// unwrapUser accepts {"user":X}, the success envelope, or a bare user.
func unwrapUser(raw []byte) ([]byte, error) {
	if m, ok := object(raw); ok {
		if user, found := m["user"]; found && !isNull(user) {
			return user, nil
		}
	}
	return unwrapEnvelope(raw)
}

// normalizeNfc produces {rules, data, matchTags} with matchTags mirroring
// rules, from either the flat success response or an enveloped one.
func normalizeNfc(raw []byte) ([]byte, error) {
	m, ok := object(raw)
	if !ok {
		return raw, nil
	}

	body := raw
	_, hasRules := m["rules"]
	if !hasRules {
		unwrapped, err := unwrapEnvelope(raw)
		if err != nil {
			return nil, err
		}
		body = unwrapped
	}

	var data model.NfcMatchData
	if err := json.Unmarshal(body, &data); err != nil {
		return raw, nil
	}
	if data.Rules == nil {
		return body, nil
	}
	if data.MatchTags == nil {
		data.MatchTags = append([]string(nil), data.Rules...)
	}
	return json.Marshal(data)
}

func passthrough(raw []byte) ([]byte, error) {
	return raw, nil
}
