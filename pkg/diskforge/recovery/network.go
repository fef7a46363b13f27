package recovery

import (
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/diskforge/pkg/diskforge/fault"
)

// NetworkEngine handles failures fetching a source image.
type NetworkEngine struct {
	engineBase
	maxRetries int
	delays     []time.Duration
}

var _ Engine = (*NetworkEngine)(nil)

// NewNetworkEngine creates the network recovery engine: up to 5 retries
// at 2s, 5s, 10s, 20s and 30s.
func NewNetworkEngine(opts ...EngineOption) *NetworkEngine {
	return &NetworkEngine{
		engineBase: newEngineBase("network", []string{
			"ConnectionError", "TimeoutError", "URLError", "HTTPError",
			"NetworkError", "DownloadError", "DNSError",
		}, opts),
		maxRetries: 5,
		delays: []time.Duration{
			2 * time.Second, 5 * time.Second, 10 * time.Second,
			20 * time.Second, 30 * time.Second,
		},
	}
}

// Analyze implements Engine.
func (e *NetworkEngine) Analyze(fc fault.Context) []Action {
	var actions []Action

	if fc.RetryCount < e.maxRetries {
		actions = append(actions, e.action(StrategyRetry,
			fmt.Sprintf("Retry download (attempt %d/%d)", fc.RetryCount+1, e.maxRetries),
			0.9-0.15*float64(fc.RetryCount),
			retryDelay(e.delays, fc.RetryCount),
		))
	}

	if strings.Contains(fc.Kind, "HTTPError") {
		alt := e.action(StrategyAlternative, "Try alternative download mirror", 0.7, 10*time.Second)
		alt.AlternativeParams = map[string]string{ParamUseMirror: "true"}
		actions = append(actions, alt)
	}

	return actions
}
