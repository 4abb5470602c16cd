package types

import (
	"encoding/json"
	"testing"
)

func TestForDelegationCopiesContext(t *testing.T) {
	ec := ExecutionContext{
		UserID:        "u1",
		OrgID:         "org",
		ProjectID:     "album",
		Tier:          "pro",
		AgentID:       "generalist",
		ReservationID: "res-1",
	}

	child := ec.ForDelegation("legal")
	if child.AgentID != "legal" || !child.Delegated {
		t.Fatalf("unexpected delegated context: %+v", child)
	}
	if child.ReservationID != "" {
		t.Fatalf("delegated context kept parent reservation %q", child.ReservationID)
	}
	if child.UserID != "u1" || child.ProjectID != "album" || child.Tier != "pro" {
		t.Fatalf("delegated context lost caller fields: %+v", child)
	}
	if ec.AgentID != "generalist" || ec.Delegated {
		t.Fatalf("parent context was modified: %+v", ec)
	}
}

func TestFailFormatsMessage(t *testing.T) {
	r := Fail(CodeQuotaExceeded, "limit is %d", 3)
	if r.Success {
		t.Fatalf("expected failure")
	}
	if r.ErrorCode != CodeQuotaExceeded || r.Error != "limit is 3" {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestAsResponseOmitsEmptyFields(t *testing.T) {
	ok := OK(map[string]any{"url": "https://cdn.test/a.png"}).AsResponse()
	if _, found := ok["error"]; found {
		t.Fatalf("success response carries error: %v", ok)
	}
	if _, found := ok["errorCode"]; found {
		t.Fatalf("success response carries errorCode: %v", ok)
	}
	if ok["success"] != true {
		t.Fatalf("unexpected success flag: %v", ok)
	}

	failed := Fail(CodeUnknownTool, "no tool named %q", "x").AsResponse()
	if failed["errorCode"] != "UNKNOWN_TOOL" {
		t.Fatalf("unexpected errorCode: %v", failed["errorCode"])
	}
	if _, found := failed["data"]; found {
		t.Fatalf("failed response carries data: %v", failed)
	}
}

func TestToolResultJSON(t *testing.T) {
	data, err := json.Marshal(Fail(CodeJobNotFound, "job %s not found", "j1"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"success":false,"error":"job j1 not found","errorCode":"JOB_NOT_FOUND"}`
	if string(data) != want {
		t.Fatalf("unexpected json:\nwant: %s\ngot:  %s", want, data)
	}
}

func TestTokenUsageTotal(t *testing.T) {
	u := TokenUsage{InputTokens: 120, OutputTokens: 30}
	if u.Total() != 150 {
		t.Fatalf("expected 150, got %d", u.Total())
	}
}
