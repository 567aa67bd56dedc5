package extractor

import "golang.org/x/net/html"

// ExtractionResult holds the extraction outcome.
// DocumentRoot is the original parsed HTML document.
// ContentNode is the extracted meaningful content node (semantic container).
type ExtractionResult struct {
	DocumentRoot *html.Node
	ContentNode  *html.Node
}

// ExtractParam tunes the Layer 3 heuristic (scoring and minimum-content
// gates) that the first two heuristic layers skip entirely. Field names and
// defaults mirror config.Config's own extraction-threshold getters, the
// production caller's only source for these values.
type ExtractParam struct {
	BodySpecificityBias                 float64
	LinkDensityThreshold                float64
	ScoreMultiplierNonWhitespaceDivisor float64
	ScoreMultiplierParagraphs           float64
	ScoreMultiplierHeadings             float64
	ScoreMultiplierCodeBlocks           float64
	ScoreMultiplierListItems            float64
	ThresholdMinNonWhitespace           int
	ThresholdMinHeadings                int
	ThresholdMinParagraphsOrCode        int
	ThresholdMaxLinkDensity             float64
}

// DefaultExtractParam returns the thresholds a bare NewDomExtractor call
// uses, matching config.WithDefault's extraction defaults.
func DefaultExtractParam() ExtractParam {
	return ExtractParam{
		BodySpecificityBias:                 0.75,
		LinkDensityThreshold:                0.80,
		ScoreMultiplierNonWhitespaceDivisor: 50.0,
		ScoreMultiplierParagraphs:           5.0,
		ScoreMultiplierHeadings:             10.0,
		ScoreMultiplierCodeBlocks:           15.0,
		ScoreMultiplierListItems:            2.0,
		ThresholdMinNonWhitespace:           50,
		ThresholdMinHeadings:                0,
		ThresholdMinParagraphsOrCode:        1,
		ThresholdMaxLinkDensity:             0.8,
	}
}
