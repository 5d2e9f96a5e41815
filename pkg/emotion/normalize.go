package emotion

import "strings"

// synonyms maps common classifier vocabularies onto the canonical set.
// Covers the YOLO face labels, SER short codes, and text-model labels.
var synonyms = map[string]Label{
	// Canonical passthroughs
	"happy":    Happy,
	"sad":      Sad,
	"angry":    Angry,
	"surprise": Surprise,
	"fear":     Fear,
	"disgust":  Disgust,
	"neutral":  Neutral,

	// Common variants
	"joy":         Happy,
	"happiness":   Happy,
	"contentment": Happy,
	"love":        Happy,
	"admiration":  Happy,
	"sadness":     Sad,
	"melancholy":  Sad,
	"anger":       Angry,
	"annoyance":   Angry,
	"frustration": Angry,
	"surprised":   Surprise,
	"ps":          Surprise, // TESS "pleasant surprise"
	"fearful":     Fear,
	"anxiety":     Fear,
	"scared":      Fear,
	"disgusted":   Disgust,
	"contempt":    Disgust,
	"calm":        Neutral,
	"unknown":     Neutral,

	// SER short codes
	"hap": Happy,
	"ang": Angry,
	"neu": Neutral,
	"sur": Surprise,
	"fea": Fear,
	"dis": Disgust,
}

// Normalize maps an arbitrary classifier label onto the canonical set.
// Unrecognized labels become Neutral.
func Normalize(label string) Label {
	l := strings.ToLower(strings.TrimSpace(label))
	if l == "" {
		return Neutral
	}
	if canon, ok := synonyms[l]; ok {
		return canon
	}
	return Neutral
}
