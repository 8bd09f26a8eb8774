package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/browserbox/internal/shared/id"
)

// FileName is the published session metadata file.
const FileName = "session.json"

// Session identifies the sandbox instance.
type Session struct {
	ID           id.SessionID `json:"id"`
	DisplayIndex int          `json:"display_index"`
	Width        int          `json:"width"`
	Height       int          `json:"height"`
	Depth        int          `json:"depth"`
	Persistent   bool         `json:"persistent"`
	ProfileDir   string       `json:"profile_dir"`
	CreatedAt    time.Time    `json:"created_at"`

	Ports Ports `json:"ports"`
}

// Ports lists the externally reachable endpoints of the session.
type Ports struct {
	Framebuffer int `json:"framebuffer"`
	Bridge      int `json:"bridge"`
	Automation  int `json:"automation"`
	Control     int `json:"control"`
}

// New creates the session from configuration.
func New(cfg *config.Config) *Session {
	return &Session{
		ID:           id.NewSessionID(),
		DisplayIndex: cfg.Session.DisplayIndex,
		Width:        cfg.Session.Width,
		Height:       cfg.Session.Height,
		Depth:        cfg.Session.Depth,
		Persistent:   cfg.Session.Persistent,
		ProfileDir:   cfg.Session.ProfileDir,
		CreatedAt:    time.Now().UTC(),
		Ports: Ports{
			Framebuffer: cfg.Framebuffer.Port,
			Bridge:      cfg.Bridge.Port,
			Automation:  cfg.Automation.Port,
			Control:     cfg.Control.Port,
		},
	}
}

// Display returns the X display name, e.g. ":99".
func (s *Session) Display() string {
	return fmt.Sprintf(":%d", s.DisplayIndex)
}

// Resolution returns WxHxD.
func (s *Session) Resolution() string {
	return fmt.Sprintf("%dx%dx%d", s.Width, s.Height, s.Depth)
}

// Snapshot returns a copy safe to hand to other goroutines.
func (s *Session) Snapshot() Session {
	return *s
}

// Publish atomically writes session.json into dir: temp file, fsync, rename.
func (s *Session) Publish(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	data, err := sonic.ConfigStd.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, FileName)
	tmp := path + ".tmp"

	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating session file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing session file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming session file: %w", err)
	}
	return nil
}

// Unpublish removes session.json. Missing files are not an error.
func (s *Session) Unpublish(dir string) error {
	err := os.Remove(filepath.Join(dir, FileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

// Read loads a published session.
func Read(dir string) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	var s Session
	if err := sonic.ConfigStd.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing session file: %w", err)
	}
	return &s, nil
}
