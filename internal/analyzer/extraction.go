package analyzer

import (
	"context"
	"time"

	"github.com/mediavault/libcatalog/internal/models"
	"github.com/mediavault/libcatalog/internal/parser"
)

// Extractor is the external media-probe collaborator §1 carves out as
// out-of-scope ("the media decoder used to probe containers, invoked
// by the metadata extractor service"). This package ships one
// implementation, FFprobeExtractor, which the orchestrator's Build wires
// in; ExtractionService accepts any other Extractor as well, the
// same split the original project draws between VLCMetadataService
// (owns the chain position) and libvlc itself (owns the decode).
type Extractor interface {
	Probe(ctx context.Context, mrl string) (ProbeResult, error)
}

// ProbeResult is everything a single probe call can report. Playlist
// and subscription inputs populate SubItems instead of Tracks; regular
// media populates Tracks and the tag fields.
type ProbeResult struct {
	Title       string
	Album       string
	AlbumArtist string
	Artist      string
	Genre       string
	Date        string
	TrackNumber int
	DiscNumber  int
	DiscTotal   int

	Tracks   []TrackDescriptor
	Embedded []EmbeddedThumbnail
	SubItems []SubItem
}

// extractionTimeout bounds every Probe call (§5: "the metadata
// extractor is invoked with an explicit wall clock timeout").
const extractionTimeout = 5 * time.Second

// ExtractionService is the first stage of the parser chain (§4.6 step
// 1, §4.7's "Item — the output of the metadata extractor"): it runs
// the injected Extractor against the task's MRL and attaches the
// result as ExtractedMeta for AnalysisService and LinkingService to
// consume downstream. It targets models.StepMetadataExtraction and
// runs at the highest priority, mirroring the chain position the
// original project gives VLCMetadataService ahead of its
// MetadataAnalyzer and LinkService.
type ExtractionService struct {
	extractor Extractor
}

func NewExtractionService(extractor Extractor) *ExtractionService {
	return &ExtractionService{extractor: extractor}
}

func (s *ExtractionService) Name() string                 { return "metadata-extraction" }
func (s *ExtractionService) Priority() int                { return 300 }
func (s *ExtractionService) TargetedStep() models.TaskStep { return models.StepMetadataExtraction }
func (s *ExtractionService) Flush()                        {}

// Run probes task.MRL under a bounded deadline and stores the result
// as the item's ExtractedMeta. A probe failure or timeout is Fatal —
// there is nothing downstream services can analyse or link without
// it.
func (s *ExtractionService) Run(ctx context.Context, item *parser.Item) parser.Status {
	task := item.Task
	if task.MRL == "" {
		return parser.Fatal
	}

	probeCtx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	res, err := s.extractor.Probe(probeCtx, task.MRL)
	if err != nil {
		return parser.Fatal
	}

	PutMeta(item, &ExtractedMeta{
		Title:       res.Title,
		Album:       res.Album,
		AlbumArtist: res.AlbumArtist,
		Artist:      res.Artist,
		Genre:       res.Genre,
		Date:        res.Date,
		TrackNumber: res.TrackNumber,
		DiscNumber:  res.DiscNumber,
		DiscTotal:   res.DiscTotal,
		Tracks:      res.Tracks,
		Embedded:    res.Embedded,
		SubItems:    res.SubItems,
	})
	return parser.Success
}
