package conversation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/chatgate-bot/chatgate/internal/config"
	"github.com/chatgate-bot/chatgate/internal/llm"
)

// ErrPresetNotFound is returned for keywords with no mapped script.
var ErrPresetNotFound = errors.New("preset not found")

// PresetLine is one replayable line of a preset script.
type PresetLine struct {
	Role llm.Role
	Text string
}

// PresetScript is a parsed preset file.
type PresetScript struct {
	Keyword string
	Lines   []PresetLine
}

// PresetStore resolves preset keywords to parsed scripts. Scripts are
// cached after first load; with hot reload enabled an fsnotify watcher
// drops cached entries when their files change.
type PresetStore struct {
	cfg    config.PresetsConfig
	logger *logrus.Logger

	mu    sync.Mutex
	cache map[string]*PresetScript

	watcher *fsnotify.Watcher
}

// NewPresetStore builds the store and starts the watcher when hot
// reload is configured.
func NewPresetStore(cfg config.PresetsConfig, logger *logrus.Logger) (*PresetStore, error) {
	s := &PresetStore{
		cfg:    cfg,
		logger: logger,
		cache:  make(map[string]*PresetScript),
	}
	if cfg.HotReload {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("preset watcher: %w", err)
		}
		if err := watcher.Add(cfg.Directory); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("preset watcher: %w", err)
		}
		s.watcher = watcher
		go s.watch()
	}
	return s, nil
}

// Close stops the watcher.
func (s *PresetStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Load returns the script for a keyword, parsing its file on first use.
func (s *PresetStore) Load(keyword string) (*PresetScript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if script, ok := s.cache[keyword]; ok {
		return script, nil
	}

	file, ok := s.cfg.Keywords[keyword]
	if !ok {
		return nil, ErrPresetNotFound
	}

	raw, err := os.ReadFile(filepath.Join(s.cfg.Directory, file))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPresetNotFound
		}
		return nil, fmt.Errorf("read preset %s: %w", keyword, err)
	}

	script := parsePreset(keyword, string(raw))
	s.cache[keyword] = script
	return script, nil
}

// Keywords lists configured preset keywords.
func (s *PresetStore) Keywords() []string {
	out := make([]string, 0, len(s.cfg.Keywords))
	for k := range s.cfg.Keywords {
		out = append(out, k)
	}
	return out
}

func (s *PresetStore) watch() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.invalidate(filepath.Base(event.Name))
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("Preset watcher error")
		}
	}
}

func (s *PresetStore) invalidate(file string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for keyword, mapped := range s.cfg.Keywords {
		if mapped != file {
			continue
		}
		if _, ok := s.cache[keyword]; ok {
			delete(s.cache, keyword)
			s.logger.WithField("preset", keyword).Info("Preset cache invalidated")
		}
	}
}

// parsePreset reads "role: text" lines. Untagged lines default to the
// system role; blank lines are skipped.
func parsePreset(keyword, raw string) *PresetScript {
	script := &PresetScript{Keyword: keyword}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		role := llm.RoleSystem
		text := line
		if idx := strings.Index(line, ":"); idx > 0 {
			switch strings.ToLower(strings.TrimSpace(line[:idx])) {
			case "system", "系统":
				role, text = llm.RoleSystem, line[idx+1:]
			case "user", "用户":
				role, text = llm.RoleUser, line[idx+1:]
			case "assistant", "助手", "bot":
				role, text = llm.RoleAssistant, line[idx+1:]
			}
		}
		script.Lines = append(script.Lines, PresetLine{Role: role, Text: strings.TrimSpace(text)})
	}
	return script
}
