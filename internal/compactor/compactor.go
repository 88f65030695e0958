// Package compactor implements ContextFS's three-phase, two-lock
// compaction procedure (spec.md §4.7): move old hot turns into the
// archive, fold them into the rolling summary via an external
// summarizer, and shrink the hot log down to the most recent turns.
package compactor

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"contextfs/internal/archive"
	"contextfs/internal/cerrors"
	"contextfs/internal/embedding"
	"contextfs/internal/embedview"
	"contextfs/internal/fsstore"
	"contextfs/internal/history"
	"contextfs/internal/logging"
	"contextfs/internal/model"
	"contextfs/internal/pins"
	"contextfs/internal/state"
	"contextfs/internal/summary"
	"contextfs/internal/tokens"
)

// Summarizer is the external compaction model contract (spec.md §4.7
// phase 2): given a fixed prompt built from the turns being retired, it
// returns raw summary text (bullets, possibly fenced) for summary.Normalize
// to clean up. A nonzero StatusCode on the returned error lets the
// compactor's retry loop tell a retryable failure from a terminal one.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// SummarizeError wraps a Summarizer failure with the HTTP-shaped status
// code the retry loop classifies (spec.md §4.7: "retryable HTTP
// (408/409/425/429/5xx) and network error classes").
type SummarizeError struct {
	StatusCode int
	Err        error
}

func (e *SummarizeError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("summarize: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("summarize: %v", e.Err)
}

func (e *SummarizeError) Unwrap() error { return e.Err }

// Retryable reports whether this failure should be retried with backoff: a
// network error (StatusCode == 0, non-nil Err) or a retryable HTTP status.
func (e *SummarizeError) Retryable() bool {
	if e.StatusCode == 0 {
		return e.Err != nil
	}
	return embedding.IsRetryableStatus(e.StatusCode)
}

// Options configures one Compact call. Zero-value ints fall back to
// sane defaults so tests and callers that only care about a subset of
// knobs don't need to fill every field.
type Options struct {
	Force          bool
	AutoCompact    bool
	RecentTurns    int
	TokenThreshold int

	SummaryMaxChars int
	MaxRetries      int
	BaseBackoff     time.Duration

	// Now lets tests pin the archivedAt / lastCompactedAt timestamp; a
	// zero value uses time.Now().UTC().
	Now func() time.Time
}

// Result reports what Compact did.
type Result struct {
	Compacted    bool
	Reason       string // set when Compacted is false: "below_threshold" etc.
	ArchivedIDs  []string
	TotalTokens  int
	NewHotCount  int
	CompactCount int
}

// Compactor wires the stores one workspace's compaction pass touches.
type Compactor struct {
	fs         *fsstore.Store
	history    *history.Store
	archive    *archive.Store
	pins       *pins.Store
	summary    *summary.Store
	state      *state.Store
	embed      *embedview.Store
	summarizer Summarizer
}

// New returns a Compactor over the given workspace stores. embed may be
// nil (e.g. a workspace with embeddings disabled), in which case phase 3
// skips promoting hot embedding rows to the archive view.
func New(fs *fsstore.Store, h *history.Store, a *archive.Store, p *pins.Store, sm *summary.Store, st *state.Store, embed *embedview.Store, summarizer Summarizer) *Compactor {
	return &Compactor{fs: fs, history: h, archive: a, pins: p, summary: sm, state: st, embed: embed, summarizer: summarizer}
}

type phase1Result struct {
	skip       bool
	reason     string
	totalTokens int
	old        []model.Turn
	recent     []model.Turn
	oldIDs     map[string]bool
	summaryRaw string
}

// Compact runs the full three-phase procedure. Phase 1 and phase 3 each
// acquire the workspace lock independently; phase 2 (the summarizer call)
// runs with no lock held, so concurrent readers are never blocked on
// network latency (spec.md §4.7).
func (c *Compactor) Compact(ctx context.Context, opts Options) (Result, error) {
	opts = withDefaults(opts)
	timer := logging.StartTimer(logging.CategoryHistory, "Compact")
	defer timer.Stop()

	p1, err := c.phase1(opts)
	if err != nil {
		return Result{}, err
	}
	if p1.skip {
		return Result{Compacted: false, Reason: p1.reason, TotalTokens: p1.totalTokens}, nil
	}

	rawSummary, err := c.phase2(ctx, p1, opts)
	if err != nil {
		return Result{}, err
	}

	res, err := c.phase3(p1, rawSummary, opts)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func withDefaults(opts Options) Options {
	if opts.RecentTurns <= 0 {
		opts.RecentTurns = 20
	}
	if opts.TokenThreshold <= 0 {
		opts.TokenThreshold = 6000
	}
	if opts.SummaryMaxChars <= 0 {
		opts.SummaryMaxChars = 4000
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 250 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return opts
}

// phase1 reads hot history, pins, and the summary under the workspace
// lock, decides whether compaction fires, and splits history into the
// retained tail and the entries to retire (spec.md §4.7 phase 1).
func (c *Compactor) phase1(opts Options) (phase1Result, error) {
	var out phase1Result
	err := c.fs.WithLock(func() error {
		hotTurns, _, err := c.history.ReadHistory(false)
		if err != nil {
			return err
		}
		pinList, err := c.pins.Load()
		if err != nil {
			return err
		}
		summaryText, err := c.summary.Load()
		if err != nil {
			return err
		}

		historyTexts := make([]string, len(hotTurns))
		for i, t := range hotTurns {
			historyTexts[i] = t.Text
		}
		pinTexts := make([]string, len(pinList))
		for i, p := range pinList {
			pinTexts[i] = p.Text
		}
		total := tokens.EstimateBlock(historyTexts) + tokens.EstimateBlock(pinTexts) + tokens.Estimate(summaryText)
		out.totalTokens = total

		if !opts.Force && (!opts.AutoCompact || total <= opts.TokenThreshold) {
			out.skip = true
			out.reason = "below_threshold"
			return nil
		}

		keep := opts.RecentTurns
		if keep < 1 {
			keep = 1
		}
		splitAt := len(hotTurns) - keep
		if splitAt < 0 {
			splitAt = 0
		}
		out.old = append([]model.Turn(nil), hotTurns[:splitAt]...)
		out.recent = append([]model.Turn(nil), hotTurns[splitAt:]...)
		out.summaryRaw = summaryText

		if len(out.old) == 0 {
			out.skip = true
			out.reason = "nothing_to_retire"
			return nil
		}

		out.oldIDs = make(map[string]bool, len(out.old))
		for _, t := range out.old {
			out.oldIDs[t.ID] = true
		}
		return nil
	})
	return out, err
}

// phase2 invokes the external summarizer with no lock held, retrying
// retryable failures with jittered exponential backoff, and folds the
// reply against the existing summary text (spec.md §4.7 phase 2).
func (c *Compactor) phase2(ctx context.Context, p1 phase1Result, opts Options) (string, error) {
	prompt := buildPrompt(p1.old, p1.summaryRaw)

	var lastErr error
	backoff := opts.BaseBackoff
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		reply, err := c.summarizer.Summarize(ctx, prompt)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		var se *SummarizeError
		retryable := true
		if asSummarizeError(err, &se) {
			retryable = se.Retryable()
		}
		if !retryable || attempt == opts.MaxRetries {
			break
		}

		jitter := time.Duration(rand.Int63n(int64(backoff) / 2 + 1))
		select {
		case <-ctx.Done():
			return "", cerrors.Internal(ctx.Err(), "compact: summarizer canceled")
		case <-time.After(backoff + jitter):
		}
		backoff *= 2
	}
	return "", cerrors.Provider(lastErr, "compact: summarizer failed after %d attempts", opts.MaxRetries+1)
}

func asSummarizeError(err error, target **SummarizeError) bool {
	se, ok := err.(*SummarizeError)
	if ok {
		*target = se
	}
	return ok
}

// buildPrompt renders the fixed compaction prompt: the current summary
// (if any) followed by the full text of every turn being retired, oldest
// first.
func buildPrompt(old []model.Turn, currentSummary string) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation turns into a concise bullet list, ")
	b.WriteString("folding in and deduplicating against the existing summary. ")
	b.WriteString("Preserve concrete facts, decisions, and open questions. Respond with bullets only.\n\n")
	if strings.TrimSpace(currentSummary) != "" {
		b.WriteString("EXISTING SUMMARY:\n")
		b.WriteString(currentSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("TURNS TO FOLD IN:\n")
	for _, t := range old {
		fmt.Fprintf(&b, "[%s] %s: %s\n", t.Ts, t.Role, t.Text)
	}
	return b.String()
}

// phase3 re-reads the hot log under a fresh lock acquisition, removes
// exactly the turns retired in phase 1 (preserving anything appended
// during phase 2's no-lock window), and atomically writes the archive,
// summary, and shrunk hot log (spec.md §4.7 phase 3).
func (c *Compactor) phase3(p1 phase1Result, rawSummary string, opts Options) (Result, error) {
	archivedAt := opts.Now().Format(time.RFC3339Nano)
	var res Result

	err := c.fs.WithLock(func() error {
		currentHot, _, err := c.history.ReadHistory(false)
		if err != nil {
			return err
		}

		var newHot []model.Turn
		for _, t := range currentHot {
			if !p1.oldIDs[t.ID] {
				newHot = append(newHot, t)
			}
		}

		if err := c.archive.AppendArchiveLocked(p1.old, archivedAt); err != nil {
			return err
		}
		if c.embed != nil {
			if err := c.embed.PromoteToArchiveLocked(idsOf(p1.old)); err != nil {
				return err
			}
		}

		normalizedSummary := summary.Normalize(rawSummary, opts.SummaryMaxChars)
		if err := c.fs.WriteTextAtomic(summary.FileName, []byte(normalizedSummary)); err != nil {
			return err
		}

		if err := c.fs.WriteTextAtomic(history.FileName, history.Encode(newHot)); err != nil {
			return err
		}

		res.Compacted = true
		res.NewHotCount = len(newHot)
		res.ArchivedIDs = idsOf(p1.old)
		res.TotalTokens = p1.totalTokens
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	finalState, err := c.state.UpdatePatch(func(st *model.State) {
		st.LastCompactedAt = archivedAt
		st.CompactCount++
		st.LastPackTokens = res.TotalTokens
	})
	if err != nil {
		return Result{}, err
	}
	res.CompactCount = finalState.CompactCount
	return res, nil
}

func idsOf(turns []model.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.ID
	}
	return out
}
