package hitl

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Mailer delivers a correction workbook to the operators.
type Mailer interface {
	Send(subject, body string, attachments []string) error
}

// Notifier exports pending faulty rows to a workbook and mails it out.
type Notifier struct {
	faulty     *Repository
	collection string
	columns    []string
	outDir     string
	mailer     Mailer
	log        zerolog.Logger
}

// NewNotifier creates a notifier for one faulty collection. columns fixes
// the workbook column order; outDir is where workbooks are written before
// being attached.
func NewNotifier(faulty *Repository, collection string, columns []string, outDir string, mailer Mailer, log zerolog.Logger) *Notifier {
	return &Notifier{
		faulty:     faulty,
		collection: collection,
		columns:    columns,
		outDir:     outDir,
		mailer:     mailer,
		log:        log.With().Str("component", "faulty_notifier").Str("collection", collection).Logger(),
	}
}

// Notify exports the pending faulty rows not yet mailed and sends the
// workbook. A raising is notified once; rows already mailed wait for the
// operator instead of being re-sent every run. Returns the number of rows
// exported.
func (n *Notifier) Notify() (int, error) {
	pending, err := n.faulty.Unnotified(n.collection)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		n.log.Debug().Msg("No unnotified faulty rows, skipping notification")
		return 0, nil
	}

	if err := os.MkdirAll(n.outDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create export dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.xlsx", n.collection, time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(n.outDir, name)

	if err := WriteCorrectionFile(path, n.columns, pending); err != nil {
		return 0, err
	}

	subject := fmt.Sprintf("Correction required: %d faulty rows (%s)", len(pending), n.collection)
	body := fmt.Sprintf(
		"%d rows failed validation and need a manual correction.\n"+
			"Fix the flagged cells in the attached file and upload it to the corrections folder.\n",
		len(pending))
	if err := n.mailer.Send(subject, body, []string{path}); err != nil {
		return 0, fmt.Errorf("failed to send correction mail: %w", err)
	}
	if err := n.faulty.MarkNotified(n.collection, pending, time.Now().UTC()); err != nil {
		return 0, err
	}

	n.log.Info().Int("rows", len(pending)).Str("file", path).Msg("Sent correction workbook")
	return len(pending), nil
}
