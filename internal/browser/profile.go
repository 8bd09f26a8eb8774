package browser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/browserbox/internal/service"
)

// HookProfile is the prepare hook name for the browser component.
const HookProfile = "browser.profile"

// Profile is the browser's user data directory.
type Profile struct {
	Dir        string
	Persistent bool
}

// Prepare readies the directory for a launch. A persistent profile is only
// created if missing; its contents are never touched. An ephemeral profile
// is wiped and recreated.
func (p Profile) Prepare() error {
	if p.Dir == "" || p.Dir == "/" {
		return fmt.Errorf("refusing to use profile dir %q", p.Dir)
	}
	if !p.Persistent {
		if err := os.RemoveAll(p.Dir); err != nil {
			return fmt.Errorf("wiping profile: %w", err)
		}
	}
	if err := os.MkdirAll(p.Dir, 0o700); err != nil {
		return fmt.Errorf("creating profile: %w", err)
	}
	return nil
}

// Hook adapts Prepare to a supervisor prepare hook.
func (p Profile) Hook(log *logging.Logger) service.Hook {
	return func(context.Context) error {
		if err := p.Prepare(); err != nil {
			return err
		}
		log.Debug("Profile prepared", zap.String("dir", p.Dir), zap.Bool("persistent", p.Persistent))
		return nil
	}
}

// Digest fingerprints the profile: relative paths, modes and file contents.
// An empty or missing directory has the digest of no entries.
func (p Profile) Digest(ctx context.Context) (string, error) {
	type entry struct {
		rel  string
		line string
	}

	var (
		mu      sync.Mutex
		entries []entry
	)

	if _, err := os.Stat(p.Dir); os.IsNotExist(err) {
		return hex.EncodeToString(sha256.New().Sum(nil)), nil
	}

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, p.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == p.Dir {
			return nil
		}

		rel, err := filepath.Rel(p.Dir, path)
		if err != nil {
			return err
		}

		var line string
		switch {
		case d.IsDir():
			line = fmt.Sprintf("d %s", rel)
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			line = fmt.Sprintf("l %s -> %s", rel, target)
		case d.Type().IsRegular():
			sum, err := hashFile(path)
			if err != nil {
				return err
			}
			line = fmt.Sprintf("f %s %s", rel, sum)
		default:
			line = fmt.Sprintf("o %s", rel)
		}

		mu.Lock()
		entries = append(entries, entry{rel: rel, line: line})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking profile: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	h := sha256.New()
	for _, e := range entries {
		io.WriteString(h, e.line)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
