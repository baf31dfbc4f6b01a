package domain

import (
	"encoding/json"
	"time"
)

type ThreatLevel string

const (
	ThreatClean    ThreatLevel = "clean"
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// BandThreatScore maps an aggregate score (0-100) to its threat level.
func BandThreatScore(score float64) ThreatLevel {
	switch {
	case score >= 75:
		return ThreatCritical
	case score >= 50:
		return ThreatHigh
	case score >= 25:
		return ThreatMedium
	case score > 0:
		return ThreatLow
	default:
		return ThreatClean
	}
}

// SourceVerdict is one threat source's answer for one IOC.
type SourceVerdict struct {
	Source   string          `json:"source"`
	Weight   float64         `json:"weight"`
	Detected bool            `json:"detected"`
	Score    float64         `json:"score"` // 0-100
	Raw      json.RawMessage `json:"raw,omitempty"`
}

// ThreatIntelRecord is the upsertable row for one (ioc, ioc_type) pair.
type ThreatIntelRecord struct {
	IOC            string          `json:"ioc"`
	IOCType        IOCType         `json:"ioc_type"`
	ThreatLevel    ThreatLevel     `json:"threat_level"`
	ThreatScore    float64         `json:"threat_score"`
	SourcesQueried []string        `json:"sources_queried"`
	SourcesHit     []string        `json:"sources_hit"`
	LastSeen       time.Time       `json:"last_seen"`
	RawVendorData  json.RawMessage `json:"raw_vendor_data,omitempty"`
}

// AggregateVerdicts folds per-source verdicts for a single IOC into an
// upsertable record. The aggregate score is the weight-normalized mean
// over responding sources; timed-out sources contribute zero weight.
// Confidence is the fraction of queried sources that responded.
func AggregateVerdicts(ioc IOC, queried []string, verdicts []SourceVerdict, now time.Time) (ThreatIntelRecord, float64) {
	var weightSum, weighted float64
	var hits []string
	raws := make(map[string]json.RawMessage, len(verdicts))
	for _, v := range verdicts {
		weightSum += v.Weight
		weighted += v.Weight * v.Score
		if v.Detected {
			hits = append(hits, v.Source)
		}
		if len(v.Raw) > 0 {
			raws[v.Source] = v.Raw
		}
	}

	var score float64
	if weightSum > 0 {
		score = weighted / weightSum
	}

	var confidence float64
	if len(queried) > 0 {
		confidence = float64(len(verdicts)) / float64(len(queried))
	}

	rec := ThreatIntelRecord{
		IOC:            ioc.Value,
		IOCType:        ioc.Type,
		ThreatLevel:    BandThreatScore(score),
		ThreatScore:    score,
		SourcesQueried: queried,
		SourcesHit:     hits,
		LastSeen:       now,
	}
	if len(raws) > 0 {
		if b, err := json.Marshal(raws); err == nil {
			rec.RawVendorData = b
		}
	}
	return rec, confidence
}

// ThreatSummary is the stage-appended threat section of the message body.
// Score is the worst (highest) aggregate over the alert's IOCs, so a
// single confirmed-malicious observable dominates.
type ThreatSummary struct {
	Score          float64             `json:"score"`
	ThreatLevel    ThreatLevel         `json:"threat_level"`
	Confidence     float64             `json:"confidence"`
	SourcesQueried []string            `json:"sources_queried"`
	SourcesHit     []string            `json:"sources_hit"`
	Records        []ThreatIntelRecord `json:"records,omitempty"`
}

// SummarizeThreat builds the alert-level summary from per-IOC records.
// Confidence is the mean per-IOC response fraction.
func SummarizeThreat(queried []string, records []ThreatIntelRecord, confidences []float64) ThreatSummary {
	sum := ThreatSummary{
		ThreatLevel:    ThreatClean,
		SourcesQueried: queried,
		SourcesHit:     []string{},
		Records:        records,
	}
	hitSet := make(map[string]bool)
	for _, rec := range records {
		if rec.ThreatScore > sum.Score {
			sum.Score = rec.ThreatScore
		}
		for _, s := range rec.SourcesHit {
			if !hitSet[s] {
				hitSet[s] = true
				sum.SourcesHit = append(sum.SourcesHit, s)
			}
		}
	}
	sum.ThreatLevel = BandThreatScore(sum.Score)
	if len(confidences) > 0 {
		var total float64
		for _, c := range confidences {
			total += c
		}
		sum.Confidence = total / float64(len(confidences))
	}
	return sum
}
