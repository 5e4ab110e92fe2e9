package image

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"photojobs/internal/domain"
)

var typeInstructions = map[domain.JobType]string{
	domain.JobTypePerson:   "Enhance this portrait: natural skin texture, balanced exposure, sharp eyes, keep identity unchanged.",
	domain.JobTypeCouple:   "Enhance this photo of two people: even lighting across both faces, natural tones, keep both identities unchanged.",
	domain.JobTypeFamily:   "Enhance this group photo: recover faces of every person, balanced exposure, reduce noise.",
	domain.JobTypePet:      "Enhance this pet photo: crisp fur detail, bright eyes, clean background.",
	domain.JobTypeProduct:  "Enhance this product photo: clean studio lighting, accurate colours, crisp edges, neutral background.",
	domain.JobTypeHeadshot: "Turn this photo into a professional headshot: soft key light, neutral backdrop, sharp focus on the face.",
	domain.JobTypeRestore:  "Restore this old photo: remove scratches and dust, repair faded colours, reconstruct damaged faces faithfully.",
}

// Instruction builds the text prompt sent with an enhancement request.
func Instruction(req EnhanceRequest) string {
	base, ok := typeInstructions[req.JobType]
	if !ok {
		base = typeInstructions[domain.JobTypePerson]
	}
	parts := []string{base}
	if req.Settings.Quality == "hd" {
		parts = append(parts, "Output at the highest available resolution.")
	}
	if ar := req.Settings.AspectRatio; ar != "" && ar != "original" {
		parts = append(parts, fmt.Sprintf("Crop to a %s aspect ratio without cutting off subjects.", ar))
	}
	if notes := strings.TrimSpace(req.Settings.Notes); notes != "" {
		parts = append(parts, "Additional notes: "+notes)
	}
	if name := localeName(req.Locale); name != "" {
		parts = append(parts, "Any visible text should be written in "+name+".")
	}
	return strings.Join(parts, " ")
}

func localeName(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return ""
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return ""
	}
	base, _ := tag.Base()
	if base.String() == "en" {
		return ""
	}
	return display.English.Languages().Name(language.Make(base.String()))
}
