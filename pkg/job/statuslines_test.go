package job

import "testing"

func TestFormatParseStatusLineRoundTrip(t *testing.T) {
	vars := map[string]string{"var1": "val1"}
	formatted := FormatStatusLine("downloading", vars)

	lines := ParseStatusLines(formatted)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0].Key != "downloading" {
		t.Errorf("expected key %q, got %q", "downloading", lines[0].Key)
	}
	if lines[0].Vars["var1"] != "val1" {
		t.Errorf("expected var1=val1, got %v", lines[0].Vars)
	}
}

func TestFormatStatusLineNoVars(t *testing.T) {
	if got := FormatStatusLine("starting", nil); got != "starting" {
		t.Errorf("expected bare key with no vars, got %q", got)
	}
}

func TestIsFailed(t *testing.T) {
	if !IsFailed("downloading\nextracting\nfailed") {
		t.Error("expected trailing 'failed' line to be detected")
	}
	if IsFailed("downloading\nextracting\ndone") {
		t.Error("expected non-failed trailing line to not be detected as failure")
	}
	if IsFailed("") {
		t.Error("expected empty data to not be failed")
	}
}

func TestParseStatusLinesMultiple(t *testing.T) {
	data := "step1,!!pct!10!!\nstep2,!!pct!50!!,!!eta!30s!!"
	lines := ParseStatusLines(data)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[1].Vars["pct"] != "50" || lines[1].Vars["eta"] != "30s" {
		t.Errorf("unexpected vars for line 2: %v", lines[1].Vars)
	}
}
