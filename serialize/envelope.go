package serialize

import (
	"encoding/json"

	"github.com/google/uuid"
)

// FormatVersion is the current on-disk document format version.
// System.Save stamps every document it writes with this value;
// System.Open compares it against the document being read and triggers
// the upgrade hook on a mismatch.
const FormatVersion = "1.0.0"

// TimeSeriesInfo is the `time_series` object inside a Document, pointing at
// the sidecar directory and naming the backend that reads it.
type TimeSeriesInfo struct {
	Directory string `json:"directory"`
	Backend   string `json:"backend,omitempty"`
}

// Document is the top-level shape System.Save writes to "<stem>.json":
// `{name, description, uuid, data_format_version, components: [...],
// time_series: {directory: "...", ...}}`. Each entry in Components is
// itself a full JSON object carrying its own __metadata__ discriminator
// plus its normal fields rather than an opaque blob wrapped in a separate
// envelope.
type Document struct {
	Name              string                `json:"name,omitempty"`
	Description       string                `json:"description,omitempty"`
	SystemUUID        uuid.UUID             `json:"uuid"`
	DataFormatVersion string                `json:"data_format_version"`
	Components        []json.RawMessage     `json:"components"`
	Attributes        []AttributeEnvelope   `json:"attributes,omitempty"`
	Attachments       []AttributeAttachment `json:"attachments,omitempty"`
	TimeSeries        TimeSeriesInfo        `json:"time_series"`
}
