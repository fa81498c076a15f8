package catalogsync

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"bitbucket.org/mmdatafocus/pricelists_backend/config"
	"bitbucket.org/mmdatafocus/pricelists_backend/models"
	"github.com/agnivade/levenshtein"
	"gorm.io/gorm"
)

// Scorer measures the similarity of two product names on [0,1], where 1 is
// an exact match after folding. Implementations must be symmetric.
type Scorer interface {
	Score(a, b string) float64
}

// LevenshteinScorer scores names as 1 - editDistance/maxLen over folded
// forms. Folding is lower-casing plus whitespace collapsing only; token
// order and punctuation still count as distance.
type LevenshteinScorer struct{}

func (LevenshteinScorer) Score(a, b string) float64 {
	fa, fb := foldName(a), foldName(b)
	maxLen := utf8.RuneCountInString(fa)
	if n := utf8.RuneCountInString(fb); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		// Two empty names carry no similarity evidence.
		return 0
	}
	if fa == fb {
		return 1
	}
	dist := levenshtein.ComputeDistance(fa, fb)
	return 1 - float64(dist)/float64(maxLen)
}

func foldName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Candidate is one catalog product considered for a supplier row.
type Candidate struct {
	ProductId int
	Name      string
}

// CandidateSource yields the products to score for one record. Narrowing
// is an optimization only: it may return a subset when it can prove the
// rest cannot match, never a different decision.
type CandidateSource interface {
	Candidates(ctx context.Context, rec IngestRecord) ([]Candidate, error)
}

// catalogCandidateSource narrows by the record's category characteristic
// and by the folded name's first token, then widens to the full active
// catalog when narrowing finds nothing. Archived products never match.
type catalogCandidateSource struct {
	db *gorm.DB
}

// NewCatalogCandidateSource builds the DB-backed candidate source. A nil
// db defers to the shared connection, which may not exist yet at wiring
// time.
func NewCatalogCandidateSource(db *gorm.DB) CandidateSource {
	return &catalogCandidateSource{db: db}
}

func (s *catalogCandidateSource) Candidates(ctx context.Context, rec IngestRecord) ([]Candidate, error) {
	db := s.db
	if db == nil {
		db = config.GetDB()
	}
	query := db.WithContext(ctx).Model(&models.Product{}).
		Where("status <> ?", models.ProductStatusArchived)

	narrowed := query.Session(&gorm.Session{})
	if category := strings.TrimSpace(rec.Characteristics["category"]); category != "" {
		narrowed = narrowed.Where("category = ?", category)
	}
	if token := firstToken(rec.Name); token != "" {
		narrowed = narrowed.Where("LOWER(name) LIKE ?", token+"%")
	}

	candidates, err := scanCandidates(narrowed)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		return candidates, nil
	}
	// Narrowing was too aggressive; fall back to the full scan so the
	// decision is the same as without the optimization.
	return scanCandidates(query)
}

func scanCandidates(query *gorm.DB) ([]Candidate, error) {
	var rows []models.Product
	if err := query.Select("id", "name").Find(&rows).Error; err != nil {
		return nil, err
	}
	candidates := make([]Candidate, 0, len(rows))
	for _, p := range rows {
		candidates = append(candidates, Candidate{ProductId: p.ID, Name: p.Name})
	}
	return candidates, nil
}

func firstToken(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Engine applies the threshold policy to candidate scores.
type Engine struct {
	cfg    config.MatchConfig
	scorer Scorer
	source CandidateSource
}

func NewEngine(cfg config.MatchConfig, scorer Scorer, source CandidateSource) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, scorer: scorer, source: source}, nil
}

// Match decides how one record relates to the catalog: best score at or
// above the high threshold links automatically, below the low threshold
// creates a new product, anything between queues the top candidates for
// review.
func (e *Engine) Match(ctx context.Context, rec IngestRecord) (Decision, error) {
	candidates, err := e.source.Candidates(ctx, rec)
	if err != nil {
		return Decision{}, err
	}
	if len(candidates) == 0 {
		return Decision{Kind: DecisionCreateNew}, nil
	}

	scored := make([]models.ReviewCandidate, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, models.ReviewCandidate{
			ProductId: c.ProductId,
			Name:      c.Name,
			Score:     e.scorer.Score(rec.Name, c.Name),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	best := scored[0]
	switch {
	case best.Score >= e.cfg.HighThreshold:
		return Decision{Kind: DecisionAutoLink, ProductId: best.ProductId}, nil
	case best.Score < e.cfg.LowThreshold:
		return Decision{Kind: DecisionCreateNew}, nil
	default:
		top := scored
		if len(top) > e.cfg.ReviewTopN {
			top = top[:e.cfg.ReviewTopN]
		}
		return Decision{Kind: DecisionReviewQueue, Candidates: top}, nil
	}
}
