package models

import "testing"

func TestResultNoMatch(t *testing.T) {
	if !(Result{}).NoMatch() {
		t.Error("empty result should be no match")
	}
	if !(Result{Matches: []MatchResult{}}).NoMatch() {
		t.Error("zero-entry match list should be no match")
	}
	if (Result{Provenance: &ProvenanceRecord{ContentHash: "abc"}}).NoMatch() {
		t.Error("provenance-only result is a match")
	}
}

func TestResultCloneIsDeep(t *testing.T) {
	orig := Result{
		Matches:    []MatchResult{{Title: "Sandstorm", Artist: "Darude"}},
		Provenance: &ProvenanceRecord{ContentHash: "h", Metadata: map[string]string{"label": "x"}},
	}
	c := orig.Clone()
	c.Matches[0].Title = "changed"
	c.Provenance.Metadata["label"] = "y"

	if orig.Matches[0].Title != "Sandstorm" {
		t.Error("clone shares match slice")
	}
	if orig.Provenance.Metadata["label"] != "x" {
		t.Error("clone shares provenance metadata")
	}
}
