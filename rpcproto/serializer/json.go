package serializer

import (
	"encoding/json"

	"github.com/nadb-org/nadb/rpcproto"

	nadb "github.com/nadb-org/nadb"
)

// NewJSONSerializer returns a Serializer using encoding/json, satisfying the
// spec's "JSON with base64-encoded binary values" wire format requirement
// for free: encoding/json already base64-encodes []byte fields (Value,
// Checksum, MetaJSON's raw bytes travel as a json.RawMessage instead, so
// they stay human-readable).
func NewJSONSerializer() Serializer {
	return jsonSerializer{}
}

type jsonSerializer struct{}

// wireMessage mirrors rpcproto.Message field-for-field but declares MetaJSON
// as json.RawMessage so nested JSON payloads aren't double-encoded as a
// base64 string.
type wireMessage struct {
	Type               rpcproto.MessageType `json:"type"`
	RequestID          uint64               `json:"request_id,omitempty"`
	Sequence           uint64               `json:"sequence,omitempty"`
	TimestampUnixMilli int64                `json:"timestamp_unix_milli,omitempty"`
	DB                 string               `json:"db,omitempty"`
	Namespace          string               `json:"namespace,omitempty"`
	Key                string               `json:"key,omitempty"`
	Value              []byte               `json:"value,omitempty"`
	Tags               []string             `json:"tags,omitempty"`
	TTLSeconds         *int64               `json:"ttl_seconds,omitempty"`
	Checksum           []byte               `json:"checksum,omitempty"`
	MetaJSON           json.RawMessage      `json:"meta,omitempty"`
	Ok                 bool                 `json:"ok,omitempty"`
	Err                string               `json:"err,omitempty"`
}

func (jsonSerializer) Serialize(msg rpcproto.Message) ([]byte, error) {
	w := wireMessage{
		Type:               msg.Type,
		RequestID:          msg.RequestID,
		Sequence:           msg.Sequence,
		TimestampUnixMilli: msg.TimestampUnixMilli,
		DB:                 msg.DB,
		Namespace:          msg.Namespace,
		Key:                msg.Key,
		Value:              msg.Value,
		Tags:               msg.Tags,
		TTLSeconds:         msg.TTLSeconds,
		Checksum:           msg.Checksum,
		Ok:                 msg.Ok,
		Err:                msg.Err,
	}
	if len(msg.MetaJSON) > 0 {
		w.MetaJSON = json.RawMessage(msg.MetaJSON)
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, nadb.WrapError(nadb.CodeProtocol, err, "json-encode message")
	}
	return b, nil
}

func (jsonSerializer) Deserialize(b []byte, msg *rpcproto.Message) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return nadb.WrapError(nadb.CodeProtocol, err, "json-decode message")
	}
	*msg = rpcproto.Message{
		Type:               w.Type,
		RequestID:          w.RequestID,
		Sequence:           w.Sequence,
		TimestampUnixMilli: w.TimestampUnixMilli,
		DB:                 w.DB,
		Namespace:          w.Namespace,
		Key:                w.Key,
		Value:              w.Value,
		Tags:               w.Tags,
		TTLSeconds:         w.TTLSeconds,
		Checksum:           w.Checksum,
		Ok:                 w.Ok,
		Err:                w.Err,
	}
	if len(w.MetaJSON) > 0 {
		msg.MetaJSON = []byte(w.MetaJSON)
	}
	return nil
}
