package emotion

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want Label
	}{
		{"happy", Happy},
		{"Happiness", Happy},
		{"JOY", Happy},
		{"sadness", Sad},
		{"anger", Angry},
		{"surprised", Surprise},
		{"ps", Surprise},
		{"fearful", Fear},
		{"disgusted", Disgust},
		{"calm", Neutral},
		{"hap", Happy},
		{"neu", Neutral},
		{"", Neutral},
		{"  angry  ", Angry},
		{"no-such-emotion", Neutral},
	}

	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeAlwaysValid(t *testing.T) {
	inputs := []string{"happy", "garbage", "", "ANGER", "42", "contempt"}
	for _, in := range inputs {
		if got := Normalize(in); !got.Valid() {
			t.Errorf("Normalize(%q) produced invalid label %q", in, got)
		}
	}
}

func TestNewDetectionClampsConfidence(t *testing.T) {
	d := NewDetection("room1", Face, "happy", 1.7)
	if d.Confidence != 1.0 {
		t.Errorf("expected confidence clamped to 1.0, got %v", d.Confidence)
	}

	d = NewDetection("room1", Speech, "sad", -0.3)
	if d.Confidence != 0.0 {
		t.Errorf("expected confidence clamped to 0.0, got %v", d.Confidence)
	}

	if err := d.Validate(); err != nil {
		t.Errorf("clamped detection should validate: %v", err)
	}
}

func TestDetectionValidate(t *testing.T) {
	good := NewDetection("room1", Face, "happy", 0.8)
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := good
	bad.Room = ""
	if err := bad.Validate(); err == nil {
		t.Error("expected error for missing room")
	}

	bad = good
	bad.Modality = "smell"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown modality")
	}

	bad = good
	bad.Label = "euphoric"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for out-of-set label")
	}
}

func TestDetectionUnmarshalNormalizes(t *testing.T) {
	raw := []byte(`{"room":"r1","modality":"face","label":"Surprised","confidence":1.4}`)

	var d Detection
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Label != Surprise {
		t.Errorf("expected label normalized to surprise, got %q", d.Label)
	}
	if d.Confidence != 1.0 {
		t.Errorf("expected confidence clamped to 1.0, got %v", d.Confidence)
	}
}

func TestDetectionAge(t *testing.T) {
	d := NewDetection("r1", Face, "happy", 0.5)
	d.Timestamp = time.Now().Add(-3 * time.Second)

	age := d.Age(time.Now())
	if age < 2*time.Second || age > 4*time.Second {
		t.Errorf("expected age near 3s, got %v", age)
	}
}
