package domain

import (
	"encoding/json"
	"fmt"
)

// Envelope is the JSON message body flowing between stages. Each stage
// appends the section it owns and preserves everything else unchanged,
// including sections it does not know about (Extra), so upstream
// additions never break downstream consumers.
type Envelope struct {
	Alert         Alert          `json:"alert"`
	IOCs          []IOC          `json:"iocs,omitempty"`
	Enrichment    *EnrichmentSet `json:"enrichment,omitempty"`
	ThreatSummary *ThreatSummary `json:"threat_summary,omitempty"`
	Triage        *TriageResult  `json:"triage,omitempty"`

	// Extra holds unknown top-level sections verbatim.
	Extra map[string]json.RawMessage `json:"-"`
}

var envelopeKnownKeys = map[string]bool{
	"alert": true, "iocs": true, "enrichment": true,
	"threat_summary": true, "triage": true,
}

func (e *Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	b, err := json.Marshal((*plain)(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return b, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		if !envelopeKnownKeys[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	type plain Envelope
	if err := json.Unmarshal(data, (*plain)(e)); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("decode envelope sections: %w", err)
	}
	for k := range all {
		if envelopeKnownKeys[k] {
			delete(all, k)
		}
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

// EncodeEnvelope serializes the body for broker publication.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// DecodeEnvelope parses a broker message body.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
