// Package confreload hot-reloads the non-invariant fields of a running
// config: the reflector list and the log level (SPEC_FULL §4, domain
// stack). Floors, ceilings, thresholds and other invariant-bearing fields
// are deliberately not revisited here — those only ever take effect at
// process start, the same way the teacher's UpdateConfig swaps in a whole
// new *Config but everything that matters to Invariant F/T was already
// validated once at load time.
package confreload

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// MutableFields is the reload-safe subset of a config file.
type MutableFields struct {
	Reflectors []string `mapstructure:"reflectors" yaml:"reflectors"`
	LogLevel   string   `mapstructure:"log_level" yaml:"log_level"`
}

// Loader reads the current MutableFields from disk. The cmd/ binaries
// implement it with their full config loader (LoadAutorateConfig /
// LoadSteeringConfig), so every reload re-runs full validation and a file
// that fails it is rejected, keeping the previous values.
type Loader func(path string) (MutableFields, error)

// ApplyFunc is called with freshly loaded fields after a debounced write
// event. Implementations swap their copy of the mutable fields behind a
// mutex the way the teacher's UpdateConfig does.
type ApplyFunc func(MutableFields)

// Watcher reloads path's mutable fields on every filesystem write,
// debounced so an editor's multi-write save doesn't fire the callback
// several times in a row.
type Watcher struct {
	path    string
	load    Loader
	apply   ApplyFunc
	log     zerolog.Logger
	debounce time.Duration
}

// New builds a Watcher. debounce of 0 uses a 200ms default.
func New(path string, load Loader, apply ApplyFunc, log zerolog.Logger, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Watcher{path: path, load: load, apply: apply, log: log, debounce: debounce}
}

// Run watches path until stop is closed or an unrecoverable fsnotify setup
// error occurs. It is meant to run in its own goroutine.
func (w *Watcher) Run(stop <-chan struct{}) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.path); err != nil {
		return err
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-stop:
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Str("path", w.path).Msg("config watcher error")
		case <-fire:
			fields, err := w.load(w.path)
			if err != nil {
				w.log.Warn().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous values")
				continue
			}
			w.apply(fields)
			w.log.Info().Strs("reflectors", fields.Reflectors).Str("log_level", fields.LogLevel).Msg("config reloaded")
		}
	}
}
