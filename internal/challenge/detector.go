// File: internal/challenge/detector.go
// Description: Scans a page for the signature table's challenge families. One
// page evaluation gathers loaded script addresses, frame addresses, marker
// matches, and global-object probe results; presence rules are then applied
// per family in pure Go.
package challenge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/applypilot/applypilot-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Detector recognizes anti-automation challenges on one page.
type Detector struct {
	page schemas.PageScripter
	now  schemas.Clock
	log  *zap.Logger
}

var _ schemas.Detector = (*Detector)(nil)

// NewDetector builds a detector over a host page.
func NewDetector(page schemas.PageScripter, logger *zap.Logger) (*Detector, error) {
	if page == nil {
		return nil, fmt.Errorf("detector requires a page scripter")
	}
	return &Detector{
		page: page,
		now:  time.Now,
		log:  logger.Named("detector"),
	}, nil
}

// probeFamily is the per-family slice of the signature table shipped into the
// page evaluation.
type probeFamily struct {
	Type        string `json:"type"`
	Selector    string `json:"selector,omitempty"`
	SiteKeyAttr string `json:"siteKeyAttr,omitempty"`
	Probe       string `json:"probe,omitempty"`
}

type markerHit struct {
	Present bool   `json:"present"`
	SiteKey string `json:"siteKey"`
}

type probeResult struct {
	URL     string               `json:"url"`
	Scripts []string             `json:"scripts"`
	Frames  []string             `json:"frames"`
	Markers map[string]markerHit `json:"markers"`
	Globals map[string]bool      `json:"globals"`
}

const probeTemplate = `(() => {
    const families = %s;
    const scripts = Array.from(document.querySelectorAll('script[src]')).map(s => s.src);
    const frames = Array.from(document.querySelectorAll('iframe[src]')).map(f => f.src);
    const markers = {};
    const globals = {};
    for (const fam of families) {
        if (fam.selector) {
            try {
                const el = document.querySelector(fam.selector);
                markers[fam.type] = {
                    present: !!el,
                    siteKey: (el && fam.siteKeyAttr && el.getAttribute(fam.siteKeyAttr)) || ''
                };
            } catch (e) {
                markers[fam.type] = { present: false, siteKey: '' };
            }
        }
        if (fam.probe) {
            try { globals[fam.type] = !!(0, eval)(fam.probe); }
            catch (e) { globals[fam.type] = false; }
        }
    }
    return { url: location.href, scripts, frames, markers, globals };
})()`

// probe runs the single-read page evaluation.
func (d *Detector) probe(ctx context.Context) (*probeResult, error) {
	families := make([]probeFamily, 0, len(Signatures()))
	for _, sig := range Signatures() {
		families = append(families, probeFamily{
			Type:        string(sig.Type),
			Selector:    sig.MarkerSelector,
			SiteKeyAttr: sig.SiteKeyAttr,
			Probe:       sig.GlobalProbe,
		})
	}
	encoded, err := json.Marshal(families)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signature table: %w", err)
	}

	var result probeResult
	if err := d.page.Evaluate(ctx, fmt.Sprintf(probeTemplate, encoded), &result); err != nil {
		return nil, fmt.Errorf("detection probe failed: %w", err)
	}
	return &result, nil
}

// Detect reports every family currently present, in priority order.
func (d *Detector) Detect(ctx context.Context) ([]schemas.ChallengeInfo, error) {
	result, err := d.probe(ctx)
	if err != nil {
		return nil, err
	}

	var found []schemas.ChallengeInfo
	for _, sig := range Signatures() {
		info, present := evaluateFamily(sig, result, d.now())
		if !present {
			continue
		}
		found = append(found, info)
		d.log.Debug("Challenge family detected.",
			zap.String("type", string(info.Type)),
			zap.String("site_key", info.SiteKey),
			zap.Int("signals", len(info.Signals)))
	}
	return found, nil
}

// Primary returns the highest-priority present family, or nil when the page
// is clean.
func (d *Detector) Primary(ctx context.Context) (*schemas.ChallengeInfo, error) {
	found, err := d.Detect(ctx)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	// Detect walks the table in priority order already.
	return &found[0], nil
}

// evaluateFamily applies the presence rule: a marker or frame signal is
// sufficient alone; a script signal only corroborates, unless the family
// substitutes a global-object probe, in which case script plus a live global
// is sufficient.
func evaluateFamily(sig Signature, result *probeResult, now time.Time) (schemas.ChallengeInfo, bool) {
	var signals []schemas.ChallengeSignal

	scriptHit := false
	for _, pattern := range sig.ScriptPatterns {
		if src := firstMatch(result.Scripts, pattern); src != "" {
			signals = append(signals, schemas.ChallengeSignal{Kind: schemas.SignalScript, Evidence: src})
			scriptHit = true
			break
		}
	}

	marker := result.Markers[string(sig.Type)]
	if marker.Present {
		signals = append(signals, schemas.ChallengeSignal{Kind: schemas.SignalMarker, Evidence: sig.MarkerSelector})
	}

	frameHit := false
	for _, pattern := range sig.FramePatterns {
		if src := firstMatch(result.Frames, pattern); src != "" {
			signals = append(signals, schemas.ChallengeSignal{Kind: schemas.SignalFrame, Evidence: src})
			frameHit = true
			break
		}
	}

	globalHit := sig.GlobalProbe != "" && result.Globals[string(sig.Type)]
	if globalHit {
		signals = append(signals, schemas.ChallengeSignal{Kind: schemas.SignalGlobal, Evidence: sig.GlobalProbe})
	}

	present := marker.Present || frameHit || (scriptHit && globalHit)
	if !present {
		return schemas.ChallengeInfo{}, false
	}

	info := schemas.ChallengeInfo{
		ID:          uuid.NewString(),
		Type:        sig.Type,
		SiteKey:     marker.SiteKey,
		PageURL:     result.URL,
		Interactive: sig.Interactive,
		Status:      schemas.StatusDetected,
		Signals:     signals,
		DetectedAt:  now,
	}
	if marker.Present {
		info.Selector = sig.MarkerSelector
	}
	return info, true
}

func firstMatch(addresses []string, pattern string) string {
	for _, addr := range addresses {
		if strings.Contains(addr, pattern) {
			return addr
		}
	}
	return ""
}
