package app

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/perennialfi/autopilot/internal/breaker"
	"github.com/perennialfi/autopilot/internal/delegation"
	"github.com/perennialfi/autopilot/internal/evaluator"
	"github.com/perennialfi/autopilot/internal/feed"
	"github.com/perennialfi/autopilot/internal/ledger"
	"github.com/perennialfi/autopilot/internal/policy"
	"github.com/perennialfi/autopilot/internal/relayer"
	"github.com/perennialfi/autopilot/internal/router"
	"github.com/perennialfi/autopilot/internal/storage"
	"github.com/perennialfi/autopilot/pkg/config"
	"github.com/perennialfi/autopilot/pkg/healthprobe"
	"github.com/perennialfi/autopilot/pkg/httpserver"
	"github.com/perennialfi/autopilot/pkg/wallet"
	"go.uber.org/zap"
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	store         storage.Storage
	signer        wallet.Signer
	relayerClient *relayer.Client
	feedClient    *feed.Client
	feedStream    *feed.Stream
	policies      *policy.Manager
	breaker       *breaker.Breaker
	delegations   *delegation.Manager
	evaluator     *evaluator.Evaluator
	ledger        *ledger.Ledger
	router        *router.Router
	user          common.Address
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// Options holds application options.
type Options struct {
	User string // Overrides the configured user address
}
