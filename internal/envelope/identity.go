// ABOUTME: Caller identity extraction from inbound envelopes
// ABOUTME: Looks at top-level fields first, then the payload and its user_info block

package envelope

import (
	"encoding/json"
	"strconv"
)

// Identity is the caller identity carried on an inbound envelope.
type Identity struct {
	UserID   string
	UserInfo map[string]any
}

// Identity extracts user_id and user_info. user_id is taken from the top
// level, then payload.user_id, then payload.user_info.user_id. user_info is
// taken from the payload, then the top level.
func (e *Envelope) Identity() Identity {
	fields := e.payloadFields()

	var info map[string]any
	if v, ok := fields["user_info"].(map[string]any); ok {
		info = v
	} else if e.UserInfo != nil {
		info = e.UserInfo
	}

	id := e.UserID
	if id == "" {
		id = stringifyID(fields["user_id"])
	}
	if id == "" && info != nil {
		id = stringifyID(info["user_id"])
	}

	return Identity{UserID: id, UserInfo: info}
}

// IsZero reports whether no identity was supplied.
func (i Identity) IsZero() bool {
	return i.UserID == "" && len(i.UserInfo) == 0
}

// stringifyID renders a scalar user id; numeric ids become their decimal text.
func stringifyID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(id)
	default:
		b, err := json.Marshal(id)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
