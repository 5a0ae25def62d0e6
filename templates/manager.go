package templates

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/chatflow/types"
)

// NamespaceSeparator separates the namespace from the template name.
const NamespaceSeparator = "::"

// ErrTemplateNotFound is returned when no template matches a name.
var ErrTemplateNotFound = errors.New("template not found")

// Renderer renders a named template into messages.
type Renderer interface {
	Render(ctx context.Context, name string, vars map[string]any) ([]types.Message, error)
}

// Manager loads templates from a default directory and namespaced directories.
type Manager struct {
	mu         sync.RWMutex
	defaultFS  fs.FS
	namespaces map[string]namespace
	logger     *zap.Logger
}

type namespace struct {
	dir  string
	fsys fs.FS
}

var _ Renderer = (*Manager)(nil)

// NewManager creates a manager reading default templates from dir.
// An empty dir means "./prompts".
func NewManager(dir string, logger *zap.Logger) *Manager {
	if dir == "" {
		dir = "prompts"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		defaultFS:  os.DirFS(dir),
		namespaces: make(map[string]namespace),
		logger:     logger.With(zap.String("component", "templates")),
	}
}

// SetDefaultDir replaces the default template directory.
func (m *Manager) SetDefaultDir(dir string) {
	m.SetDefaultFS(os.DirFS(dir))
}

// SetDefaultFS replaces the default template filesystem.
func (m *Manager) SetDefaultFS(fsys fs.FS) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultFS = fsys
}

// AddDir registers dir under ns. Registering the same dir twice is a no-op;
// a different dir for an existing namespace is an error.
func (m *Manager) AddDir(ns, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.namespaces[ns]; ok {
		if existing.dir == dir {
			return nil
		}
		return fmt.Errorf("namespace %s already exists", ns)
	}
	m.namespaces[ns] = namespace{dir: dir, fsys: os.DirFS(dir)}
	m.logger.Debug("template namespace added", zap.String("namespace", ns), zap.String("dir", dir))
	return nil
}

// AddFS registers fsys under ns.
func (m *Manager) AddFS(ns string, fsys fs.FS) error {
	if ns == "" || strings.Contains(ns, NamespaceSeparator) {
		return fmt.Errorf("invalid namespace %q", ns)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.namespaces[ns]; ok {
		return fmt.Errorf("namespace %s already exists", ns)
	}
	m.namespaces[ns] = namespace{fsys: fsys}
	return nil
}

// Remove unregisters ns.
func (m *Manager) Remove(ns string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.namespaces[ns]; !ok {
		return fmt.Errorf("namespace %s does not exist", ns)
	}
	delete(m.namespaces, ns)
	return nil
}

// resolve splits name into its filesystem and file path.
func (m *Manager) resolve(name string) (fs.FS, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns, file, found := strings.Cut(name, NamespaceSeparator)
	if !found {
		return m.defaultFS, name, nil
	}
	n, ok := m.namespaces[ns]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s (unknown namespace %s)", ErrTemplateNotFound, name, ns)
	}
	return n.fsys, file, nil
}

// Render loads name and renders it with vars.
func (m *Manager) Render(ctx context.Context, name string, vars map[string]any) ([]types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fsys, file, err := m.resolve(name)
	if err != nil {
		return nil, err
	}
	if !fs.ValidPath(file) {
		return nil, fmt.Errorf("%w: %s (invalid path)", ErrTemplateNotFound, name)
	}

	data, err := fs.ReadFile(fsys, file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}

	var msgs []types.Message
	switch path.Ext(file) {
	case ".yaml", ".yml":
		msgs, err = renderYAML(name, data, vars)
	default:
		msgs, err = renderText(name, string(data), vars)
	}
	if err != nil {
		return nil, err
	}

	m.logger.Debug("template rendered", zap.String("template", name), zap.Int("messages", len(msgs)))
	return msgs, nil
}

func renderText(name, text string, vars map[string]any) ([]types.Message, error) {
	tmpl, err := parse(name, text)
	if err != nil {
		return nil, templateError(name, err)
	}
	out, err := execute(tmpl, vars)
	if err != nil {
		return nil, templateError(name, err)
	}
	return splitMessages(name, out)
}

type yamlTemplate struct {
	Messages []MessageTemplate `yaml:"messages"`
}

func renderYAML(name string, data []byte, vars map[string]any) ([]types.Message, error) {
	var doc yamlTemplate
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, templateError(name, err)
	}
	if len(doc.Messages) == 0 {
		return nil, templateError(name, fmt.Errorf("no messages defined"))
	}

	msgs := make([]types.Message, 0, len(doc.Messages))
	for i, mt := range doc.Messages {
		if !mt.Role.Valid() {
			return nil, templateError(name, fmt.Errorf("message %d: unknown role %q", i, mt.Role))
		}
		tmpl, err := parse(fmt.Sprintf("%s#%d", name, i), mt.Content)
		if err != nil {
			return nil, templateError(name, fmt.Errorf("message %d: %w", i, err))
		}
		content, err := execute(tmpl, vars)
		if err != nil {
			return nil, templateError(name, fmt.Errorf("message %d: %w", i, err))
		}
		msgs = append(msgs, types.NewMessage(mt.Role, strings.TrimSpace(content)))
	}
	return msgs, nil
}
