package timekeep_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aussiebroadwan/timekeep/pkg/agentsdk"
)

/*
 * Container setup and shared helpers for the timekeep end-to-end tests.
 * The image is built once in TestMain; each test gets its own container.
 */

const (
	testImageName = "timekeep-test:latest"

	bootstrapToken = "test-bootstrap-token-12345"
	tenantName     = "Acme"
	adminEmail     = "owner@acme.test"
	adminPassword  = "Owner-Password-1"
	memberPassword = "Member-Password-1"
)

func TestMain(m *testing.M) {
	fmt.Fprintf(os.Stdout, "Building timekeep Docker image...")
	if err := buildDockerImage(); err != nil {
		fmt.Fprintf(os.Stderr, "\nFailed to build Docker image: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, " done\n")

	exitCode := m.Run()

	fmt.Fprintf(os.Stdout, "Cleaning up timekeep Docker image...")
	cleanupDockerImage()
	fmt.Fprintf(os.Stdout, " done\n")

	os.Exit(exitCode)
}

func buildDockerImage() error {
	cmd := exec.CommandContext(context.Background(), "docker", "build",
		"-t", testImageName,
		"-f", "../../../cmd/timekeep/Dockerfile",
		"../../../")
	cmd.Stdout = os.Stdout
	return cmd.Run()
}

func cleanupDockerImage() {
	_ = exec.CommandContext(context.Background(), "docker", "rmi", "-f", testImageName).Run()
}

// setupContainer starts the service and returns its base URL. Extra env
// entries override the defaults; the auth limiter is relaxed unless the
// caller sets its own.
func setupContainer(t *testing.T, extra map[string]string) string {
	t.Helper()
	ctx := context.Background()

	env := map[string]string{
		"BOOTSTRAP_TOKEN":         bootstrapToken,
		"ENV":                     "test",
		"LOG_LEVEL":               "info",
		"LOG_FORMAT":              "json",
		"RATELIMIT_AUTH_REQUESTS": "1000",
		"RATELIMIT_API_REQUESTS":  "1000",
	}
	for k, v := range extra {
		if v == "" {
			delete(env, k)
			continue
		}
		env[k] = v
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        testImageName,
			ExposedPorts: []string{"8080/tcp"},
			Env:          env,
			WaitingFor: wait.ForHTTP("/livez").
				WithPort("8080/tcp").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	mappedPort, err := container.MappedPort(ctx, "8080")
	require.NoError(t, err)
	host, err := container.Host(ctx)
	require.NoError(t, err)

	return fmt.Sprintf("http://%s:%s", host, mappedPort.Port())
}

// fixture is a bootstrapped server with a logged-in owner.
type fixture struct {
	baseURL  string
	tenantID string
	owner    *agentsdk.Session
}

func bootstrap(t *testing.T, baseURL string) fixture {
	t.Helper()
	ctx := context.Background()

	res, err := agentsdk.NewClient(baseURL, uuid.NewString()).Bootstrap(ctx, bootstrapToken, agentsdk.BootstrapRequest{
		TenantName:       tenantName,
		AdminEmail:       adminEmail,
		AdminDisplayName: "Owner",
		AdminPassword:    adminPassword,
	})
	require.NoError(t, err)

	owner, err := agentsdk.NewClient(baseURL, uuid.NewString()).Login(ctx, agentsdk.Credentials{
		TenantID: res.TenantID,
		Email:    adminEmail,
		Password: adminPassword,
	})
	require.NoError(t, err)

	return fixture{baseURL: baseURL, tenantID: res.TenantID, owner: owner}
}

// member creates a member and logs it in from a fresh device.
func (f fixture) member(t *testing.T, email string) *agentsdk.Session {
	t.Helper()
	ctx := context.Background()

	_, err := f.owner.CreatePrincipal(ctx, agentsdk.CreatePrincipalRequest{
		Email:       email,
		DisplayName: email,
		Password:    memberPassword,
		Role:        agentsdk.RoleMember,
	})
	require.NoError(t, err)

	sess, err := agentsdk.NewClient(f.baseURL, uuid.NewString()).Login(ctx, agentsdk.Credentials{
		TenantID: f.tenantID,
		Email:    email,
		Password: memberPassword,
	})
	require.NoError(t, err)
	return sess
}

// nextEvent skips pongs and returns the next pushed event.
func nextEvent(t *testing.T, sub *agentsdk.Subscription) agentsdk.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		ev, err := sub.Next(ctx)
		require.NoError(t, err)
		if ev.Event != agentsdk.EventPong {
			return ev
		}
	}
}
