package primer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cognitivecore/internal/model"
)

// FactSource is the cross-conversation fact lookup a MemoryStore backs
// MemoryProvider with; satisfied by *memory.Store.TopFacts without this
// package importing memory, mirroring Gateway's one-directional adapter
// pattern in the memory package. privacyUnlocked mirrors
// memory.Store.GetRelevantFacts's own gate: implementations must exclude
// shadow/vault facts unless true.
type FactSource interface {
	TopFacts(ctx context.Context, limit int, privacyUnlocked bool) ([]model.Fact, error)
}

// MemoryStoreProvider adapts a FactSource to MemoryProvider. Facts are not
// indexed by intent category in this data model (see FactSource), so every
// category draws from the same cross-conversation top-confidence set,
// filtered by the same privacyUnlocked gate the Memory Store applies to
// per-conversation recall.
type MemoryStoreProvider struct {
	Facts FactSource
}

func (p *MemoryStoreProvider) RelevantFacts(ctx context.Context, category model.IntentCategory, limit int, privacyUnlocked bool) ([]model.Fact, error) {
	return p.Facts.TopFacts(ctx, limit, privacyUnlocked)
}

// StaticToolHints serves a fixed, category-keyed set of tool hints
// configured at startup rather than discovered at runtime.
type StaticToolHints map[model.IntentCategory][]string

func (h StaticToolHints) ToolHints(category model.IntentCategory) []string {
	return h[category]
}

// NoSuccessPatterns is the default SuccessPatternProvider: this build has
// no store of which approaches scored well per category (the Metrics
// Recorder aggregates IQ/Empathy, not per-category approach descriptions),
// so it always reports none rather than fabricating patterns.
type NoSuccessPatterns struct{}

func (NoSuccessPatterns) SuccessPatterns(ctx context.Context, category model.IntentCategory, limit int) ([]string, error) {
	return nil, nil
}

// FileInstructionLoader reads "<dir>/<category>.md" on first use per
// category and caches the result, matching InstructionLoader's doc comment.
type FileInstructionLoader struct {
	Dir string

	mu    sync.RWMutex
	cache map[model.IntentCategory]string
}

func NewFileInstructionLoader(dir string) *FileInstructionLoader {
	return &FileInstructionLoader{Dir: dir, cache: make(map[model.IntentCategory]string)}
}

func (l *FileInstructionLoader) Instructions(category model.IntentCategory) (string, error) {
	l.mu.RLock()
	if v, ok := l.cache[category]; ok {
		l.mu.RUnlock()
		return v, nil
	}
	l.mu.RUnlock()

	if l.Dir == "" {
		return "", nil
	}
	path := filepath.Join(l.Dir, string(category)+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			l.mu.Lock()
			l.cache[category] = ""
			l.mu.Unlock()
			return "", nil
		}
		return "", fmt.Errorf("primer: read instructions %s: %w", path, err)
	}
	text := string(data)
	l.mu.Lock()
	l.cache[category] = text
	l.mu.Unlock()
	return text, nil
}
