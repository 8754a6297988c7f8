// Package setup handles .pic/ workspace initialization.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/picflow/picflow/internal/atomic"
	"github.com/picflow/picflow/internal/model"
	"github.com/picflow/picflow/templates"
)

const picDirName = ".pic"

// Dir returns the workspace directory under projectDir.
func Dir(projectDir string) string {
	return filepath.Join(projectDir, picDirName)
}

// Run creates the .pic/ directory structure, seeds the instruction
// templates, and writes the default config. An existing workspace is
// left alone and reported as an error.
func Run(projectDir, projectName string) (string, error) {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}
	base := Dir(absDir)

	if _, err := os.Stat(base); err == nil {
		return "", fmt.Errorf("%s already exists", base)
	}

	dirs := []string{
		"state",
		"records/decisions",
		"records/conflicts",
		"records/handoffs",
		"logs",
		"locks",
		"archive",
		"quarantine",
		"runtime/correlation",
		"instructions",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return "", fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	if err := copyTemplateFile("pic.md", filepath.Join(base, "pic.md")); err != nil {
		return "", err
	}
	if err := copyTemplateFile("criteria.yaml", filepath.Join(base, "criteria.yaml")); err != nil {
		return "", err
	}
	instructions, err := fs.ReadDir(templates.FS, "instructions")
	if err != nil {
		return "", fmt.Errorf("read embedded instructions: %w", err)
	}
	for _, entry := range instructions {
		src := filepath.Join("instructions", entry.Name())
		dst := filepath.Join(base, "instructions", entry.Name())
		if err := copyTemplateFile(src, dst); err != nil {
			return "", err
		}
	}

	if projectName == "" {
		projectName = filepath.Base(absDir)
	}
	cfg := model.DefaultConfig(projectName)
	if err := atomic.WriteYAML(filepath.Join(base, "config.yaml"), cfg); err != nil {
		return "", fmt.Errorf("write config.yaml: %w", err)
	}

	return base, nil
}

// LoadConfig reads the workspace config, falling back to defaults when
// the file is absent.
func LoadConfig(picDir string) (*model.Config, error) {
	path := filepath.Join(picDir, "config.yaml")
	var cfg model.Config
	if err := atomic.ReadYAML(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return model.DefaultConfig(filepath.Base(filepath.Dir(picDir))), nil
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Audit.ToolPreviewChars == 0 {
		cfg.Audit = model.DefaultConfig("").Audit
	}
	return &cfg, nil
}

func copyTemplateFile(src, dst string) error {
	content, err := templates.FS.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read template %s: %w", src, err)
	}
	if err := os.WriteFile(dst, content, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
