package hitl

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nninov/ngt/internal/validation"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// ArchiveDir is the subfolder a consumed correction file is moved into.
const ArchiveDir = "completed"

// AcceptFunc persists fully corrected rows back into the processed store,
// keyed by identity.
type AcceptFunc func(rows map[string]map[string]string) error

// ProcessStats summarizes one correction-file pass.
type ProcessStats struct {
	Groups     int // identities present in the file
	Corrected  int // identities accepted and resolved
	StillBroke int // identities still violating a rule, left pending
}

// Processor re-ingests operator-corrected workbooks for one faulty
// collection.
type Processor struct {
	faulty     *Repository
	collection string
	rules      []validation.Rule
	accept     AcceptFunc
	log        zerolog.Logger
}

// NewProcessor creates a correction processor.
func NewProcessor(faulty *Repository, collection string, rules []validation.Rule, accept AcceptFunc, log zerolog.Logger) *Processor {
	return &Processor{
		faulty:     faulty,
		collection: collection,
		rules:      rules,
		accept:     accept,
		log:        log.With().Str("component", "corrections").Str("collection", collection).Logger(),
	}
}

// ProcessFile reads an uploaded correction workbook, merges partial fixes
// per identity, re-validates, accepts the identities that now pass every
// rule and resolves their faulty rows. Identities that still violate a rule
// stay pending for the next correction round. The file is archived either
// way so the watcher does not re-process it.
func (p *Processor) ProcessFile(path string) (ProcessStats, error) {
	var stats ProcessStats

	rows, err := readWorkbook(path)
	if err != nil {
		return stats, err
	}

	groups, order := groupByIdentity(rows)
	stats.Groups = len(order)

	accepted := make(map[string]map[string]string)
	resolvedAt := time.Now().UTC()

	for _, identity := range order {
		merged := mergeGroup(groups[identity])

		broken, err := p.violations(identity, merged)
		if err != nil {
			return stats, err
		}
		if len(broken) > 0 {
			stats.StillBroke++
			p.log.Warn().Str("identity", identity).Strs("columns", broken).
				Msg("Correction still violates rules, left pending")
			continue
		}

		accepted[identity] = merged
		if _, err := p.faulty.Resolve(p.collection, identity, resolvedAt); err != nil {
			return stats, err
		}
		stats.Corrected++
	}

	if len(accepted) > 0 {
		if err := p.accept(accepted); err != nil {
			return stats, fmt.Errorf("failed to persist corrected rows: %w", err)
		}
	}

	if err := archive(path); err != nil {
		return stats, err
	}

	p.log.Info().
		Int("groups", stats.Groups).
		Int("corrected", stats.Corrected).
		Int("still_broken", stats.StillBroke).
		Msg("Processed correction file")
	return stats, nil
}

// violations re-checks a merged row against the standing rules and against
// the columns its own faulty rows were raised on. The second check matters
// for violations no standing rule covers, like the trade pre-filters on
// price and quantity: those cells must be filled before the identity can
// resolve.
func (p *Processor) violations(identity string, row map[string]string) ([]string, error) {
	var broken []string
	seen := make(map[string]bool)
	for _, rule := range p.rules {
		if !rule.Passes(row[rule.Field]) {
			broken = append(broken, rule.Field)
			seen[rule.Field] = true
		}
	}

	raised, err := p.faulty.PendingColumns(p.collection, identity)
	if err != nil {
		return nil, err
	}
	for _, col := range raised {
		if row[col] == "" && !seen[col] {
			broken = append(broken, col)
		}
	}
	return broken, nil
}

// readWorkbook flattens the first sheet into header-keyed rows.
func readWorkbook(path string) ([]map[string]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open correction file %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("correction file %s has no sheets", path)
	}
	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read correction sheet: %w", err)
	}
	if len(raw) < 2 {
		return nil, nil
	}

	header := raw[0]
	rows := make([]map[string]string, 0, len(raw)-1)
	for _, cells := range raw[1:] {
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(cells) {
				row[name] = cells[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func groupByIdentity(rows []map[string]string) (map[string][]map[string]string, []string) {
	groups := make(map[string][]map[string]string)
	var order []string
	for _, row := range rows {
		identity := row[ColIdentity]
		if identity == "" {
			continue
		}
		if _, seen := groups[identity]; !seen {
			order = append(order, identity)
		}
		groups[identity] = append(groups[identity], row)
	}
	return groups, order
}

// mergeGroup collapses the per-violation rows of one identity into a single
// corrected row. A value entered on any of the rows fills the gap on the
// others; later rows win when the operator entered conflicting values. The
// workbook helper columns are stripped so the merged row has the same shape
// as a pipeline-produced document.
func mergeGroup(group []map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, row := range group {
		for col, v := range row {
			if col == ColIdentity || col == ColFaultyColumn || col == ColReason {
				continue
			}
			if v != "" {
				merged[col] = v
			} else if _, ok := merged[col]; !ok {
				merged[col] = ""
			}
		}
	}
	return merged
}

// archive moves a consumed file into the completed/ subfolder next to it.
func archive(path string) error {
	dir := filepath.Join(filepath.Dir(path), ArchiveDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("failed to archive correction file: %w", err)
	}
	return nil
}
