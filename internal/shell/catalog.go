package shell

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"termplex/internal/watcher"
)

const (
	etcShells    = "/etc/shells"
	fallbackPath = "/bin/sh"
	watchKey     = "shell-catalog"
)

// customShell is one entry of the custom shells file.
type customShell struct {
	Type string   `yaml:"type"`
	Name string   `yaml:"name"`
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
}

type customFile struct {
	Shells []customShell `yaml:"shells"`
}

// Catalog resolves shell types to executables. Custom shells from an
// optional YAML file take precedence over shells found on the system.
type Catalog struct {
	mu         sync.RWMutex
	custom     []Shell
	etcShells  []string
	customPath string
	etcPath    string

	lookPath func(string) (string, error)
	getenv   func(string) string
}

// NewCatalog builds a catalog, loading customPath if it is set.
func NewCatalog(customPath string) (*Catalog, error) {
	c := &Catalog{
		customPath: customPath,
		etcPath:    etcShells,
		lookPath:   exec.LookPath,
		getenv:     os.Getenv,
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload rereads the custom shells file and /etc/shells.
func (c *Catalog) Reload() error {
	custom, err := loadCustom(c.customPath)
	if err != nil {
		return err
	}
	listed := readEtcShells(c.etcPath)

	c.mu.Lock()
	c.custom = custom
	c.etcShells = listed
	c.mu.Unlock()
	return nil
}

func loadCustom(path string) ([]Shell, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read shells file: %w", err)
	}

	var f customFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse shells file %s: %w", path, err)
	}

	shells := make([]Shell, 0, len(f.Shells))
	for i, cs := range f.Shells {
		if cs.Path == "" {
			return nil, fmt.Errorf("shells file %s: entry %d has no path", path, i)
		}
		t := Custom
		if cs.Type != "" {
			parsed, ok := ParseType(cs.Type)
			if !ok {
				return nil, fmt.Errorf("shells file %s: unknown shell type %q", path, cs.Type)
			}
			t = parsed
		}
		name := cs.Name
		if name == "" {
			name = filepath.Base(cs.Path)
		}
		shells = append(shells, Shell{Type: t, Name: name, Path: cs.Path, Args: cs.Args})
	}
	return shells, nil
}

func readEtcShells(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var shells []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		shells = append(shells, line)
	}
	return shells
}

// Resolve returns an executable for the desired shell type. Default resolves
// to the system default shell.
func (c *Catalog) Resolve(t Type) (Shell, bool) {
	if t == Default {
		return c.SystemDefault()
	}

	c.mu.RLock()
	custom := c.custom
	listed := c.etcShells
	c.mu.RUnlock()

	for _, s := range custom {
		if s.Type == t && isExecutable(s.Path) {
			return s, true
		}
	}

	for _, cand := range candidates[t] {
		if path, err := c.lookPath(cand.name); err == nil {
			return Shell{Type: t, Name: cand.name, Path: path, Args: cand.args}, true
		}
		for _, p := range listed {
			if filepath.Base(p) == cand.name && isExecutable(p) {
				return Shell{Type: t, Name: cand.name, Path: p, Args: cand.args}, true
			}
		}
	}
	return Shell{}, false
}

// SystemDefault returns the user's login shell, falling back to /bin/sh.
func (c *Catalog) SystemDefault() (Shell, bool) {
	if path := c.getenv("SHELL"); path != "" && isExecutable(path) {
		return Shell{Type: typeForPath(path), Name: filepath.Base(path), Path: path, Args: []string{"-l"}}, true
	}
	if isExecutable(fallbackPath) {
		return Shell{Type: Sh, Name: "sh", Path: fallbackPath}, true
	}
	return Shell{}, false
}

// Available lists every shell the catalog can currently resolve.
func (c *Catalog) Available() []Shell {
	var out []Shell
	if s, ok := c.SystemDefault(); ok {
		s.Type = Default
		out = append(out, s)
	}
	for t := Bash; t <= Custom; t++ {
		if s, ok := c.Resolve(t); ok {
			out = append(out, s)
		}
	}
	return out
}

// Watch reloads the catalog whenever the custom shells file or /etc/shells
// changes.
func (c *Catalog) Watch(w *watcher.Watcher) error {
	paths := []string{c.etcPath}
	if c.customPath != "" {
		paths = append(paths, c.customPath)
	}
	return w.Watch(watchKey, paths, func(string) {
		if err := c.Reload(); err != nil {
			log.Printf("[shell] reload catalog: %v", err)
			return
		}
		log.Printf("[shell] catalog reloaded")
	})
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
