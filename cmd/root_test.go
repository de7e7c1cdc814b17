package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediacrawler/internal/config"
)

func TestCrawlCommandRunsAndClosesApp(t *testing.T) {
	cfgPath := writeConfig(t, `
crawler:
  seeds: ["https://example.com/"]
server:
  enabled: false
`)
	fake := &MockApp{}
	fake.On("Run", mock.Anything, []string{"https://example.org/"}).Return(nil).Once()
	fake.On("Close", mock.Anything).Return(nil).Once()
	fake.On("CrawlID").Return(uuid.New())

	var gotCfg config.Config
	withFactory(t, func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		gotCfg = cfg
		return fake, nil
	})

	root := newRootCmd()
	root.SetArgs([]string{"--config", cfgPath, "crawl", "https://example.org/"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	fake.AssertExpectations(t)
	assert.Equal(t, []string{"https://example.com/"}, gotCfg.Crawler.Seeds)
	assert.False(t, gotCfg.Server.Enabled)
}

func TestCrawlCommandReportsRunFailure(t *testing.T) {
	cfgPath := writeConfig(t, "crawler:\n  seeds: [\"https://example.com/\"]\n")
	fake := &MockApp{}
	fake.On("Run", mock.Anything, mock.Anything).Return(errors.New("queue exploded"))
	fake.On("Close", mock.Anything).Return(nil).Once()

	withFactory(t, func(context.Context, config.Config, *zap.Logger) (App, error) {
		return fake, nil
	})

	root := newRootCmd()
	root.SetArgs([]string{"--config", cfgPath, "crawl"})
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue exploded")
	fake.AssertCalled(t, "Close", mock.Anything)
}

func TestCrawlCommandFactoryFailure(t *testing.T) {
	cfgPath := writeConfig(t, "crawler:\n  seeds: [\"https://example.com/\"]\n")
	withFactory(t, func(context.Context, config.Config, *zap.Logger) (App, error) {
		return nil, errors.New("no database")
	})

	root := newRootCmd()
	root.SetArgs([]string{"--config", cfgPath, "crawl"})
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "failed to initialize application services")
}

func TestCrawlCommandNeedsSeedSource(t *testing.T) {
	cfgPath := writeConfig(t, "server:\n  enabled: false\n")
	withFactory(t, func(context.Context, config.Config, *zap.Logger) (App, error) {
		t.Fatal("factory should not be called")
		return nil, nil
	})

	root := newRootCmd()
	root.SetArgs([]string{"--config", cfgPath, "crawl"})
	root.SetErr(&bytes.Buffer{})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "no seeds configured")
}

func TestRootCommandRejectsBadConfig(t *testing.T) {
	cfgPath := writeConfig(t, "crawler:\n  workers: 0\n")
	root := newRootCmd()
	root.SetArgs([]string{"--config", cfgPath, "crawl"})
	root.SetErr(&bytes.Buffer{})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "crawler.workers")
}

func TestDiscoverCommandPrintsResults(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes need a POSIX shell")
	}
	tool := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(tool, []byte(`#!/bin/sh
printf '{"entries":[{"url":"http://m/1.mp4","webpage_url":"http://x/watch?v=1"},{"url":"http://m/2.mp4"}]}'
`), 0o755))
	cfgPath := writeConfig(t, `
extractor:
  ytdlp_args: ["`+tool+`"]
  scratch_dir: "`+t.TempDir()+`"
`)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "discover", "--dump", "http://x/page"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	got := out.String()
	assert.Contains(t, got, "2 video(s), 1 page(s)")
	assert.Contains(t, got, "video\thttp://m/1.mp4\n")
	assert.Contains(t, got, "video\thttp://m/2.mp4\n")
	assert.Contains(t, got, "page\thttp://x/watch?v=1\n")
	assert.Contains(t, got, `"entries"`)
}

func TestDiscoverCommandNeedsURL(t *testing.T) {
	cfgPath := writeConfig(t, "")
	root := newRootCmd()
	root.SetArgs([]string{"--config", cfgPath, "discover"})
	root.SetErr(&bytes.Buffer{})
	require.Error(t, root.ExecuteContext(context.Background()))
}

// --- helpers/fakes ---

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mediacrawler.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  dir: \"\"\n"+body), 0o600))
	return path
}

func withFactory(t *testing.T, f func(context.Context, config.Config, *zap.Logger) (App, error)) {
	t.Helper()
	prev := newApp
	newApp = f
	t.Cleanup(func() { newApp = prev })
}

// MockApp mocks the App interface.
type MockApp struct {
	mock.Mock
}

func (m *MockApp) CrawlID() uuid.UUID {
	args := m.Called()
	return args.Get(0).(uuid.UUID)
}

func (m *MockApp) Run(ctx context.Context, seeds ...string) error {
	args := m.Called(ctx, seeds)
	return args.Error(0)
}

func (m *MockApp) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
