package fhir

import "testing"

func TestParseETag(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{`W/"1"`, 1, false},
		{`W/"42"`, 42, false},
		{`"7"`, 7, false},
		{`3`, 3, false},
		{`  W/"5"  `, 5, false},
		{`W/"abc"`, 0, true},
		{``, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseETag(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseETag(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseETag(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatETag(t *testing.T) {
	if got := FormatETag(3); got != `W/"3"` {
		t.Errorf("expected W/\"3\", got %s", got)
	}
}

func TestParseETagRoundTrip(t *testing.T) {
	for _, v := range []int{1, 2, 10, 999999} {
		got, err := ParseETag(FormatETag(v))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != v {
			t.Errorf("round trip: expected %d, got %d", v, got)
		}
	}
}

func TestHistoryPath(t *testing.T) {
	if got := HistoryPath("Patient", "abc", "2"); got != "Patient/abc/_history/2" {
		t.Errorf("unexpected history path %s", got)
	}
}
