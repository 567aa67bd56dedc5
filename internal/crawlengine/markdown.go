package crawlengine

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/archiveforge/docscrawler/internal/assets"
	"github.com/archiveforge/docscrawler/internal/build"
	"github.com/archiveforge/docscrawler/internal/config"
	"github.com/archiveforge/docscrawler/internal/extractor"
	"github.com/archiveforge/docscrawler/internal/mdconvert"
	"github.com/archiveforge/docscrawler/internal/metadata"
	"github.com/archiveforge/docscrawler/internal/normalize"
	"github.com/archiveforge/docscrawler/internal/sanitizer"
	"github.com/archiveforge/docscrawler/internal/storage"
	"github.com/archiveforge/docscrawler/pkg/hashutil"
	"github.com/archiveforge/docscrawler/pkg/retry"
)

// markdownHashAlgo is fixed regardless of the job's index content-hash
// algorithm (§3 pins that to MD5): the sidecar's own filenames and
// frontmatter content_hash are blake3, the fast general-purpose hash the
// rest of the markdown-projection stack (html-to-markdown's own dedupe,
// asset content-addressing) already uses.
const markdownHashAlgo = hashutil.HashAlgoBLAKE3

// markdownSidecar runs §12.1's optional post-fetch enrichment pipeline:
// isolate main content, sanitize it, convert to markdown, resolve its
// assets, normalize (frontmatter + constraints), then persist. One
// markdownSidecar is built per Engine, sharing its lifetime.
//
// Every stage's failure is recorded via metadataSink and otherwise
// swallowed by project: this sidecar never turns a successful fetch into a
// failed index row.
type markdownSidecar struct {
	extractor  extractor.DomExtractor
	sanitizer  sanitizer.HtmlSanitizer
	converter  mdconvert.ConvertRule
	resolver   assets.Resolver
	normalizer normalize.Constraint
	sink       storage.Sink

	allowedPathPrefixes []string
	markdownRoot        string
	assetsDir           string
	maxAssetSize        int64
	retryParam          retry.RetryParam
}

// newMarkdownSidecar wires the sidecar's collaborators from cfg, matching
// the extraction thresholds an operator set for the whole job.
func newMarkdownSidecar(cfg config.Config, metadataSink metadata.MetadataSink, retryParam retry.RetryParam) *markdownSidecar {
	markdownRoot := filepath.Join(cfg.OutputDir(), "markdown")

	extractParam := extractor.ExtractParam{
		BodySpecificityBias:                 cfg.BodySpecificityBias(),
		LinkDensityThreshold:                cfg.LinkDensityThreshold(),
		ScoreMultiplierNonWhitespaceDivisor: cfg.ScoreMultiplierNonWhitespaceDivisor(),
		ScoreMultiplierParagraphs:           cfg.ScoreMultiplierParagraphs(),
		ScoreMultiplierHeadings:             cfg.ScoreMultiplierHeadings(),
		ScoreMultiplierCodeBlocks:           cfg.ScoreMultiplierCodeBlocks(),
		ScoreMultiplierListItems:            cfg.ScoreMultiplierListItems(),
		ThresholdMinNonWhitespace:           cfg.ThresholdMinNonWhitespace(),
		ThresholdMinHeadings:                cfg.ThresholdMinHeadings(),
		ThresholdMinParagraphsOrCode:        cfg.ThresholdMinParagraphsOrCode(),
		ThresholdMaxLinkDensity:             cfg.ThresholdMaxLinkDensity(),
	}

	localResolver := assets.NewLocalResolver(metadataSink, &http.Client{Timeout: cfg.Timeout()}, cfg.UserAgent())
	constraint := normalize.NewMarkdownConstraint(metadataSink)
	sink := storage.NewLocalSink(metadataSink)

	return &markdownSidecar{
		extractor:           extractor.NewDomExtractorWithParams(metadataSink, extractParam),
		sanitizer:           sanitizer.NewHTMLSanitizer(metadataSink),
		converter:           mdconvert.NewRule(metadataSink),
		resolver:            &localResolver,
		normalizer:          &constraint,
		sink:                &sink,
		allowedPathPrefixes: cfg.AllowedPathPrefix(),
		markdownRoot:        markdownRoot,
		assetsDir:           filepath.Join(markdownRoot, "assets"),
		maxAssetSize:        cfg.MaxBodySize(),
		retryParam:          retryParam,
	}
}

// project runs the sidecar over one freshly fetched HTML file.
func (m *markdownSidecar) project(ctx context.Context, canonical url.URL, htmlPath string, crawlDepth int) {
	body, err := os.ReadFile(htmlPath)
	if err != nil {
		return
	}

	extraction, extractErr := m.extractor.Extract(canonical, body)
	if extractErr != nil {
		return
	}

	sanitized, sanitizeErr := m.sanitizer.Sanitize(extraction.ContentNode)
	if sanitizeErr != nil {
		return
	}

	converted, convertErr := m.converter.Convert(sanitized)
	if convertErr != nil {
		return
	}

	resolveParam := assets.NewResolveParam(m.assetsDir, m.maxAssetSize)
	assetful, assetErr := m.resolver.Resolve(ctx, canonical, converted, resolveParam, m.retryParam)
	if assetErr != nil {
		return
	}

	normalizeParam := normalize.NewNormalizeParam(build.Version, time.Now(), markdownHashAlgo, crawlDepth, m.allowedPathPrefixes)
	normalized, normalizeErr := m.normalizer.Normalize(canonical, assetful, normalizeParam)
	if normalizeErr != nil {
		return
	}

	m.sink.Write(m.markdownRoot, normalized, markdownHashAlgo)
}
