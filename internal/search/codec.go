package search

import (
	"encoding/json"
	"fmt"

	"github.com/fechatter/fechatter/internal/models"
)

func unmarshalPayload(env models.EventEnvelope, dest interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("empty event payload")
	}
	return json.Unmarshal(env.Payload, dest)
}

// decodeHit round-trips a Meilisearch search hit (decoded as
// map[string]interface{} by the client) back into a MessageDoc.
func decodeHit(hit interface{}) (MessageDoc, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return MessageDoc{}, err
	}
	var doc MessageDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return MessageDoc{}, err
	}
	return doc, nil
}
