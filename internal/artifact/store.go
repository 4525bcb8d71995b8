package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

// Config configures the artifact store.
type Config struct {
	// Root is the directory holding one git repository per project.
	Root string

	// AuthorName and AuthorEmail are stamped on every commit.
	AuthorName  string
	AuthorEmail string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AuthorName:  "crewd",
		AuthorEmail: "crewd@localhost",
	}
}

// Store provides versioned artifact storage.
type Store interface {
	// WriteFile writes content at path inside the project's repository
	// and commits it with message. Returns the commit hash.
	WriteFile(ctx context.Context, projectID, path string, content []byte, message string) (string, error)

	// ReadFile returns the current content at path.
	ReadFile(ctx context.Context, projectID, path string) ([]byte, error)

	// ListFiles returns all tracked file paths for a project, sorted.
	ListFiles(ctx context.Context, projectID string) ([]string, error)

	// Close closes the store.
	Close() error
}

// gitStore implements Store over per-project git repositories.
type gitStore struct {
	config *Config
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewGitStore creates a Store rooted at cfg.Root, creating the directory
// if needed.
func NewGitStore(cfg *Config, logger *zap.Logger) (Store, error) {
	if cfg == nil || cfg.Root == "" {
		return nil, errors.New("artifact root is required")
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = "crewd"
	}
	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = "crewd@localhost"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.Root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}

	return &gitStore{config: cfg, logger: logger}, nil
}

func (s *gitStore) WriteFile(ctx context.Context, projectID, path string, content []byte, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", errors.New("store is closed")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rel, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	if message == "" {
		message = "update " + rel
	}

	repo, repoDir, err := s.openOrInit(projectID)
	if err != nil {
		return "", err
	}

	target := filepath.Join(repoDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(target, content, 0o640); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}
	if _, err := worktree.Add(rel); err != nil {
		return "", fmt.Errorf("failed to stage artifact: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.config.AuthorName,
			Email: s.config.AuthorEmail,
			When:  time.Now(),
		},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit artifact: %w", err)
	}

	s.logger.Debug("artifact committed",
		zap.String("project_id", projectID),
		zap.String("path", rel),
		zap.String("commit", hash.String()))

	return hash.String(), nil
}

func (s *gitStore) ReadFile(ctx context.Context, projectID, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("store is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	target := filepath.Join(s.repoDir(projectID), filepath.FromSlash(rel))
	content, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", rel, err)
	}
	return content, nil
}

func (s *gitStore) ListFiles(ctx context.Context, projectID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("store is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	repoDir := s.repoDir(projectID)
	if _, err := os.Stat(repoDir); os.IsNotExist(err) {
		return nil, nil
	}

	var files []string
	err := filepath.WalkDir(repoDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == git.GitDirName {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(repoDir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return files, nil
}

func (s *gitStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *gitStore) repoDir(projectID string) string {
	return filepath.Join(s.config.Root, projectID)
}

// openOrInit opens the project repository, initializing it on first use.
func (s *gitStore) openOrInit(projectID string) (*git.Repository, string, error) {
	if projectID == "" {
		return nil, "", errors.New("project id is required")
	}

	repoDir := s.repoDir(projectID)
	repo, err := git.PlainOpen(repoDir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if mkErr := os.MkdirAll(repoDir, 0o750); mkErr != nil {
			return nil, "", fmt.Errorf("failed to create repository directory: %w", mkErr)
		}
		repo, err = git.PlainInit(repoDir, false)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to open repository for %s: %w", projectID, err)
	}
	return repo, repoDir, nil
}

// cleanPath normalizes a repo-relative artifact path and rejects anything
// that would escape the repository.
func cleanPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("artifact path is required")
	}
	cleaned := filepath.ToSlash(filepath.Clean(path))
	if strings.HasPrefix(cleaned, "/") || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid artifact path: %q", path)
	}
	if cleaned == "." {
		return "", fmt.Errorf("invalid artifact path: %q", path)
	}
	return cleaned, nil
}
