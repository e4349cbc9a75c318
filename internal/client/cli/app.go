package cli

import (
	"bufio"
	"context"
	"os"

	"github.com/dmitrijs2005/lifelog/internal/client/api"
	"github.com/dmitrijs2005/lifelog/internal/client/config"
)

// adminAPI is the surface of the admin HTTP client the commands need.
// Tests substitute a stub.
type adminAPI interface {
	Login(ctx context.Context, password []byte) error
	IsLoggedIn() bool
	Connectors(ctx context.Context) ([]api.ConnectorStatus, error)
	Trigger(ctx context.Context, connectorID, filePath string, metadata map[string]any) (*api.TriggerResult, error)
	RPC(ctx context.Context, connectorID, name string, params map[string]any) (map[string]any, error)
}

type App struct {
	config *config.Config
	api    adminAPI
	reader *bufio.Reader
}

func NewApp(c *config.Config) (*App, error) {
	apiClient := api.NewClient(c.ServerEndpointAddr, c.RequestTimeout)
	return &App{config: c, api: apiClient, reader: bufio.NewReader(os.Stdin)}, nil
}

func (a *App) isLoggedIn() bool {
	return a.api.IsLoggedIn()
}

func (a *App) getStatus() string {
	if a.isLoggedIn() {
		return "admin"
	}
	return ""
}

func (a *App) Run(ctx context.Context) {
	printlnFn("Welcome to lifelog CLI (type 'help' for commands)")

	_ = a.Login(ctx)

	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.getStatus, scanner)
}
