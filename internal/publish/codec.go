package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/devrev/screenhub/internal/model"
)

// Format selects the wire encoding of published events
type Format string

const (
	FormatJSON     Format = "json"
	FormatProtobuf Format = "protobuf"
)

// UpdateEvent is published after every committed configuration change
type UpdateEvent struct {
	Name        string           `json:"name"`
	VersionID   string           `json:"version_id"`
	ContentHash string           `json:"content_hash"`
	ChangeType  model.ChangeType `json:"change_type"`
	UpdatedAt   time.Time        `json:"updated_at"`
	UpdatedBy   string           `json:"updated_by"`
	Document    model.Document   `json:"document"`
}

// Codec encodes and decodes update events
type Codec struct {
	format Format
}

// NewCodec creates a codec for the given format
func NewCodec(format Format) (*Codec, error) {
	switch format {
	case FormatJSON, FormatProtobuf:
		return &Codec{format: format}, nil
	case "":
		return &Codec{format: FormatJSON}, nil
	default:
		return nil, fmt.Errorf("unsupported publish format: %q", format)
	}
}

// Format returns the codec's wire format
func (c *Codec) Format() Format {
	return c.format
}

// Encode serializes an event
func (c *Codec) Encode(ev UpdateEvent) ([]byte, error) {
	if c.format == FormatJSON {
		return json.Marshal(ev)
	}

	doc, err := ev.Document.ToProto()
	if err != nil {
		return nil, fmt.Errorf("failed to convert document: %w", err)
	}
	msg := &structpb.Struct{Fields: map[string]*structpb.Value{
		"name":         structpb.NewStringValue(ev.Name),
		"version_id":   structpb.NewStringValue(ev.VersionID),
		"content_hash": structpb.NewStringValue(ev.ContentHash),
		"change_type":  structpb.NewStringValue(string(ev.ChangeType)),
		"updated_at":   structpb.NewStringValue(ev.UpdatedAt.UTC().Format(time.RFC3339Nano)),
		"updated_by":   structpb.NewStringValue(ev.UpdatedBy),
		"document":     doc,
	}}
	return proto.Marshal(msg)
}

// Decode parses an event produced by Encode
func (c *Codec) Decode(data []byte) (UpdateEvent, error) {
	var ev UpdateEvent
	if c.format == FormatJSON {
		err := json.Unmarshal(data, &ev)
		return ev, err
	}

	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return ev, fmt.Errorf("failed to decode event: %w", err)
	}
	str := func(key string) string { return msg.Fields[key].GetStringValue() }

	ev.Name = str("name")
	ev.VersionID = str("version_id")
	ev.ContentHash = str("content_hash")
	ev.ChangeType = model.ChangeType(str("change_type"))
	ev.UpdatedBy = str("updated_by")
	if ts := str("updated_at"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return ev, fmt.Errorf("invalid updated_at: %w", err)
		}
		ev.UpdatedAt = t
	}
	doc, err := model.FromProto(msg.Fields["document"])
	if err != nil {
		return ev, err
	}
	ev.Document = doc
	return ev, nil
}
