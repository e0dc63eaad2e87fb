//go:build integration

package integration_test

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/authcode-flow/internal/config"
	"github.com/openkcm/authcode-flow/internal/dbtest/postgrestest"
	"github.com/openkcm/authcode-flow/internal/dbtest/valkeytest"
)

const statusURL = "http://localhost:8888/"

type closeFunc func(ctx context.Context)

type infraStat struct {
	PostgresPort   nat.Port
	Postgres       *pgxpool.Pool
	ValKeyPort     nat.Port
	ConfigFilePath string
	Procdir        string
	Workdir        string
	Cfg            config.Config

	closeFuncs []closeFunc
}

func embedded(value string) commoncfg.SourceRef {
	return commoncfg.SourceRef{Source: "embedded", Value: value}
}

func initInfra(t *testing.T, cmdName string) (istat infraStat) {
	t.Helper()

	// Since the config is read from the file $PWD/config.yaml,
	// we're running a process in a subdirectory so that we aren't interferring with the other tests.
	wd, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")
	istat.Workdir = wd
	istat.Procdir = filepath.Join(wd, cmdName+"-test")
	istat.ConfigFilePath = filepath.Join(istat.Procdir, "config.yaml")

	// Prepare a directory for the test
	err = os.MkdirAll(istat.Procdir, fs.ModePerm)
	require.NoError(t, err, "failed to create a dir for the process")

	err = os.WriteFile(istat.ConfigFilePath, []byte(validConfig), fs.ModePerm)
	require.NoError(t, err, "failed to write config file")

	err = commoncfg.LoadConfig(&istat.Cfg, nil, istat.Procdir)
	require.NoError(t, err, "failed to load config")

	istat.Cfg.HTTP.Address = freeAddress(t)

	return istat
}

func freeAddress(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err, "failed to find a free port")
	defer l.Close()

	return l.Addr().String()
}

// PreparePostgres starts a migrated and seeded database and selects it as the session store.
func (istat *infraStat) PreparePostgres(t *testing.T) {
	t.Helper()

	pgClient, pgPort, pgTerminate := postgrestest.Start(t.Context())

	istat.Postgres = pgClient
	istat.PostgresPort = pgPort
	istat.closeFuncs = append(istat.closeFuncs, pgTerminate)

	istat.Cfg.Store.Type = config.StoreTypePostgres
	istat.Cfg.Database.Name = postgrestest.DBName
	istat.Cfg.Database.User = embedded(postgrestest.DBUser)
	istat.Cfg.Database.Password = embedded(postgrestest.DBPassword)
	istat.Cfg.Database.Host = embedded(postgrestest.DBHost)
	istat.Cfg.Database.Port = pgPort.Port()
	istat.Cfg.Database.SSLMode = postgrestest.DBSSLMode
}

func (istat *infraStat) PrepareValKey(t *testing.T) {
	t.Helper()

	_, vkPort, vkTerminate := valkeytest.Start(t.Context())

	istat.ValKeyPort = vkPort
	istat.closeFuncs = append(istat.closeFuncs, vkTerminate)

	istat.Cfg.Store.Type = config.StoreTypeValkey
	istat.Cfg.ValKey.Host = embedded(valkeytest.Addr(vkPort))
	istat.Cfg.ValKey.User = embedded("")
	istat.Cfg.ValKey.Password = embedded("")
}

// PrepareConfig writes a config file for running the test into the ConfigFilePath.
func (istat *infraStat) PrepareConfig(t *testing.T) {
	t.Helper()

	cfgMap := make(map[string]any)
	err := mapstructure.Decode(istat.Cfg, &cfgMap)
	require.NoError(t, err, "failed to decode config")

	out, err := yaml.Marshal(cfgMap)
	require.NoError(t, err, "failed to marshal config")

	err = os.WriteFile(istat.ConfigFilePath, out, fs.ModePerm)
	require.NoError(t, err, "failed to write config")
}

// StartCommand runs the binary in the process directory until the test ends.
func (istat *infraStat) StartCommand(t *testing.T, ctx context.Context, args ...string) *exec.Cmd {
	t.Helper()

	cmd := exec.CommandContext(ctx, filepath.Join(istat.Workdir, binary), args...)
	cmd.Dir = istat.Procdir

	cmdOutPath := filepath.Join(istat.Workdir, args[0]+".log")
	cmdOut, err := os.Create(cmdOutPath)
	require.NoError(t, err, "failed to create a log file")
	t.Cleanup(func() { cmdOut.Close() })

	cmd.Stdout = cmdOut
	cmd.Stderr = cmdOut
	t.Logf("starting an app process. Logs will be saved into %s", cmdOutPath)

	require.NoError(t, cmd.Start(), "could not start command")

	// stop the service gracefully so that coverprofiles are written
	t.Cleanup(func() {
		if cmd.ProcessState != nil {
			return
		}
		_ = cmd.Process.Signal(syscall.SIGTERM)
		if err := cmd.Wait(); !exitedCleanly(err) {
			t.Errorf("process exited abnormally: %s", err)
		}
	})

	return cmd
}

func waitForServer(t *testing.T, url string) {
	t.Helper()

	for range 100 {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	t.Fatalf("could not connect to %s", url)
}

// exitedCleanly reports whether err is nil or the process was stopped by a signal.
func exitedCleanly(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return true
		}
	}

	return false
}

func (istat *infraStat) Close(ctx context.Context) {
	os.Remove(istat.ConfigFilePath)
	os.RemoveAll(istat.Procdir)

	for _, close := range istat.closeFuncs {
		close(ctx)
	}
}
