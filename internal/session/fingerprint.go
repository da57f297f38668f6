package session

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
	"golang.org/x/text/language"
)

// Fingerprint is a bundle of coarse environment signals sent at session
// creation. None of it names the participant.
type Fingerprint struct {
	Display        *Display `json:"display,omitempty"`
	Timezone       string   `json:"timezone,omitempty"`
	TimezoneOffset int      `json:"timezone_offset"` // minutes east of UTC
	Locale         string   `json:"locale,omitempty"`
	Platform       string   `json:"platform,omitempty"`
	StorageEnabled bool     `json:"storage_enabled"`
	Timestamp      int64    `json:"timestamp"` // unix millis
	Fallback       bool     `json:"fallback,omitempty"`
}

// Display is the geometry of the participant's output surface.
type Display struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Sources supplies each fingerprint signal. Any func may be nil; a returned
// error aborts collection and yields the fallback fingerprint.
type Sources struct {
	// Display reports false when there is no display to measure.
	Display        func() (Display, bool, error)
	Locale         func() (string, error)
	Platform       func() string
	StorageEnabled func() bool
}

// DefaultSources reads the controlling terminal and process environment.
func DefaultSources() Sources {
	return Sources{
		Display:  terminalDisplay,
		Locale:   envLocale,
		Platform: func() string { return runtime.GOOS + "/" + runtime.GOARCH },
	}
}

func terminalDisplay() (Display, bool, error) {
	fd := os.Stdout.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return Display{}, false, nil
	}
	w, h, err := term.GetSize(int(fd))
	if err != nil {
		return Display{}, false, fmt.Errorf("terminal size: %w", err)
	}
	return Display{Width: w, Height: h}, true, nil
}

// envLocale resolves the POSIX locale variables to a BCP 47 tag.
func envLocale() (string, error) {
	raw := ""
	for _, k := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			raw = v
			break
		}
	}
	if i := strings.IndexAny(raw, ".@"); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" || raw == "C" || raw == "POSIX" {
		return language.Und.String(), nil
	}
	tag, err := language.Parse(strings.ReplaceAll(raw, "_", "-"))
	if err != nil {
		return "", fmt.Errorf("parse locale %q: %w", raw, err)
	}
	return tag.String(), nil
}

var errNoSignals = errors.New("fingerprint sources not configured")

// collect gathers every signal or fails as a whole.
func (src Sources) collect(now time.Time) (fp Fingerprint, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fingerprint panic: %v", r)
		}
	}()
	if src.Display == nil && src.Locale == nil && src.Platform == nil {
		return Fingerprint{}, errNoSignals
	}
	fp.Timestamp = now.UnixMilli()
	fp.Timezone, fp.TimezoneOffset = zone(now)
	if src.Display != nil {
		d, ok, err := src.Display()
		if err != nil {
			return Fingerprint{}, err
		}
		if ok {
			fp.Display = &d
		}
	}
	if src.Locale != nil {
		loc, err := src.Locale()
		if err != nil {
			return Fingerprint{}, err
		}
		fp.Locale = loc
	}
	if src.Platform != nil {
		fp.Platform = src.Platform()
	}
	if src.StorageEnabled != nil {
		fp.StorageEnabled = src.StorageEnabled()
	}
	return fp, nil
}

func zone(now time.Time) (string, int) {
	local := now.In(time.Local)
	name, offset := local.Zone()
	if loc := time.Local.String(); loc != "" && loc != "Local" {
		name = loc
	}
	return name, offset / 60
}

func fallbackFingerprint(now time.Time) Fingerprint {
	return Fingerprint{Timestamp: now.UnixMilli(), Fallback: true}
}
