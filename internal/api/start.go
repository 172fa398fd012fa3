package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/sirupsen/logrus"

	"github.com/scrapeworks/osint-worker/api/types"
	"github.com/scrapeworks/osint-worker/internal/config"
)

// Orchestrator is the task surface the HTTP layer drives. It is
// satisfied by *jobserver.JobServer.
type Orchestrator interface {
	Submit(ctx context.Context, op types.OperationType, params types.Parameters) (types.Task, error)
	Status(ctx context.Context, taskID string) (types.Task, error)
	AwaitSync(ctx context.Context, op types.OperationType, params types.Parameters, timeout time.Duration) (types.Task, error)
	VerifyCredential(ctx context.Context, name string) error
	QueueDepth() int
}

// CredentialManager is the credential surface the HTTP layer drives.
// It is satisfied by *vault.Vault.
type CredentialManager interface {
	Store(ctx context.Context, name, username, secret string) (int64, error)
	Rotate(ctx context.Context, name, newSecret string) error
	Deactivate(ctx context.Context, name string) error
	List(ctx context.Context) ([]types.CredentialView, error)
}

// Start runs the HTTP API until ctx is cancelled. The orchestrator is
// expected to be running already.
func Start(ctx context.Context, jc config.JobConfiguration, orchestrator Orchestrator, credentials CredentialManager) error {
	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(log.INFO)

	healthMetrics := NewHealthMetrics()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(APIKeyAuthMiddleware(jc))
	e.Use(HealthMetricsMiddleware(healthMetrics))

	// Probes stay outside /api/v1 and outside auth.
	e.GET(HealthCheckPath, Healthz())
	e.GET(ReadinessCheckPath, Readyz(orchestrator, healthMetrics))

	if jc.GetBool("profiling_enabled", false) {
		enableProfiling(e)
	}

	registerRoutes(e, orchestrator, credentials)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			e.Logger.Error("Failed to shut down server: ", err)
		}
	}()

	listenAddress := jc.ListenAddress()
	logrus.Infof("Starting server on %s", listenAddress)
	if err := e.Start(listenAddress); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func registerRoutes(e *echo.Echo, orchestrator Orchestrator, credentials CredentialManager) {
	v1 := e.Group("/api/v1")

	scraping := v1.Group("/scraping")
	scraping.GET("/search/users", searchUsers(orchestrator, false))
	scraping.GET("/users/:username/following", userRelations(orchestrator, types.OperationFollowing, false))
	scraping.GET("/users/:username/followers", userRelations(orchestrator, types.OperationFollowers, false))
	scraping.GET("/users/:username/timeline", userTimeline(orchestrator, false))

	osint := v1.Group("/osint")
	osint.GET("/search/users", searchUsers(orchestrator, true))
	osint.GET("/users/:username/following", userRelations(orchestrator, types.OperationFollowing, true))
	osint.GET("/users/:username/followers", userRelations(orchestrator, types.OperationFollowers, true))
	osint.GET("/users/:username/timeline", userTimeline(orchestrator, true))

	v1.GET("/tasks/:task_id", taskStatus(orchestrator))

	creds := v1.Group("/credentials")
	creds.POST("", createCredential(credentials))
	creds.GET("", listCredentials(credentials))
	creds.POST("/:name/rotate", rotateCredential(credentials))
	creds.DELETE("/:name", deactivateCredential(credentials))
	creds.POST("/:name/login", verifyCredential(orchestrator))
}

func enableProfiling(e *echo.Echo) {
	e.Logger.Info("Enabling profiling - this may impact performance")
	runtime.SetBlockProfileRate(500)
	runtime.SetMutexProfileFraction(1)
	pprof.Register(e)
}
