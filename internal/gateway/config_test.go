package gateway

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gradekit/pggate/internal/pgexec"
)

type fakeExecutor struct {
	res *pgexec.Result
	err error

	called      bool
	gotDatabase string
	gotQuery    string
}

func (f *fakeExecutor) Execute(ctx context.Context, database, query string) (*pgexec.Result, error) {
	f.called = true
	f.gotDatabase = database
	f.gotQuery = query
	return f.res, f.err
}

type fakeLister struct {
	catalog *pgexec.Catalog
	err     error
	pingErr error
}

func (f *fakeLister) List(ctx context.Context) (*pgexec.Catalog, error) {
	return f.catalog, f.err
}

func (f *fakeLister) Ping(ctx context.Context) error {
	return f.pingErr
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func validConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Version:    "test",
		ListenAddr: "localhost:8010",
		Logger:     testLogger(t),
		Executor:   &fakeExecutor{},
		Lister:     &fakeLister{},
	}
}

func TestGateway_Config_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "missing logger",
			modify: func(c *Config) {
				c.Logger = nil
			},
			wantErr: true,
		},
		{
			name: "missing executor",
			modify: func(c *Config) {
				c.Executor = nil
			},
			wantErr: true,
		},
		{
			name: "missing lister",
			modify: func(c *Config) {
				c.Lister = nil
			},
			wantErr: true,
		},
		{
			name: "sets default read header timeout",
			modify: func(c *Config) {
				c.ReadHeaderTimeout = 0
			},
			wantErr: false,
		},
		{
			name: "sets default shutdown timeout",
			modify: func(c *Config) {
				c.ShutdownTimeout = 0
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig(t)
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.NotZero(t, cfg.ReadHeaderTimeout, "Config.Validate() should set default read header timeout")
				require.NotZero(t, cfg.ShutdownTimeout, "Config.Validate() should set default shutdown timeout")
			}
		})
	}
}
