package sync

import (
	"encoding/json"
	"fmt"

	"github.com/docsift/docsift/internal/evidence"
)

// dataProjection is the query projection used everywhere file text and
// entity data is retrieved. Keeping it identical across the upload and
// resolve paths means cached entries are interchangeable with fresh ones.
const dataProjection = "[uid, name: File.name, text: File.text, entities: File.ner.entities]"

// FileData is the per-document payload produced by dataProjection: the
// processed word stream plus the extracted entities used for anchoring.
type FileData struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
	Text struct {
		Words []evidence.Word `json:"words"`
	} `json:"text"`
	Entities []evidence.Entity `json:"entities"`
}

func decodeFileData(row json.RawMessage) (*FileData, error) {
	var fd FileData
	if err := json.Unmarshal(row, &fd); err != nil {
		return nil, fmt.Errorf("failed to decode file data row: %w", err)
	}
	return &fd, nil
}
