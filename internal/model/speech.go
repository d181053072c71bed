package model

import "time"

// Unknown is the sentinel stored for any metadata field that could not be resolved.
const Unknown = "Unknown"

// UnknownSpeaker is the display name used when no speaker can be resolved.
const UnknownSpeaker = "Unknown Speaker"

// NoSpeakerID marks a speech whose speaker has no numeric identifier.
const NoSpeakerID = -1

// Speech is one floor speech in the canonical store.
type Speech struct {
	SpeechID        string `json:"speech_id"`
	Text            string `json:"text"`
	Date            int    `json:"date"` // YYYYMMDD, 0 if unknown
	SpeakerID       int    `json:"speaker_id"`
	SpeakerName     string `json:"speaker_name"`
	Party           string `json:"party"`
	State           string `json:"state"`
	LastName        string `json:"last_name"`
	FirstName       string `json:"first_name"`
	IsMapped        bool   `json:"is_mapped"`
	CongressSession string `json:"congress_session"`
	// IsProcedure is nil until classified, then 0 (substantive) or 1 (procedural).
	IsProcedure     *int   `json:"is_procedure"`
}

// Classified reports whether the speech carries a procedure label.
func (s Speech) Classified() bool {
	return s.IsProcedure != nil
}

// Speaker is the resolved identity attached to a speech.
type Speaker struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Party     string `json:"party"`
	State     string `json:"state"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsMapped  bool   `json:"is_mapped"`
}

// UnknownSpeakerRecord returns the sentinel speaker.
func UnknownSpeakerRecord() Speaker {
	return Speaker{
		ID:        NoSpeakerID,
		Name:      UnknownSpeaker,
		Party:     Unknown,
		State:     Unknown,
		FirstName: Unknown,
		LastName:  Unknown,
	}
}

// ProcessedPackage is a ledger row recording a fully ingested package.
type ProcessedPackage struct {
	PackageID   string    `json:"package_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// ProcedureUpdate assigns a classification label to one speech.
type ProcedureUpdate struct {
	SpeechID    string `json:"speech_id"`
	IsProcedure int    `json:"is_procedure"`
}

// Candidate is an unclassified speech handed to the classifier.
type Candidate struct {
	SpeechID string `json:"speech_id"`
	Text     string `json:"text"`
}

// Progress summarizes classification and ingestion coverage.
type Progress struct {
	Total             int64 `json:"total"`
	Classified        int64 `json:"classified"`
	Procedural        int64 `json:"procedural"`
	Remaining         int64 `json:"remaining"`
	Mapped            int64 `json:"mapped"`
	ProcessedPackages int64 `json:"processed_packages"`
}

// TrendRow is one (year, party) bucket of a phrase trend.
type TrendRow struct {
	Year  int    `json:"year"`
	Party string `json:"party"`
	Count int64  `json:"count"`
}

// ShareRow is the partisan split of a phrase within one congress session.
type ShareRow struct {
	CongressSession string  `json:"congress_session"`
	DCount          int64   `json:"d_count"`
	RCount          int64   `json:"r_count"`
	Total           int64   `json:"total"`
	RepShare        float64 `json:"rep_share"`
}

// Mention is one major-party speech containing a phrase, not labeled
// procedural. Read-side filters that need the text, such as the bigram
// failsafe, work on mentions.
type Mention struct {
	CongressSession string `json:"congress_session"`
	Party           string `json:"party"`
	Text            string `json:"text"`
	IsProcedure     *int   `json:"is_procedure"`
}

// RepShareOf returns r/(d+r), or 0 when both are zero.
func RepShareOf(d, r int64) float64 {
	if d+r == 0 {
		return 0
	}
	return float64(r) / float64(d+r)
}
