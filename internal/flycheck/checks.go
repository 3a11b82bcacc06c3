package flycheck

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/superfly/fly-checks/check"
)

// Handler serves the scheduler health checks under /flycheck.
func Handler(ticker Ticker, prober StatusProber) http.Handler {
	r := http.NewServeMux()

	r.HandleFunc("/flycheck/scheduler", func(w http.ResponseWriter, r *http.Request) {
		runChecks(w, r, "scheduler", func(ctx context.Context, suite *check.CheckSuite) (*check.CheckSuite, error) {
			return CheckScheduler(ctx, suite, ticker, time.Now)
		})
	})
	r.HandleFunc("/flycheck/machine", func(w http.ResponseWriter, r *http.Request) {
		runChecks(w, r, "machine", func(ctx context.Context, suite *check.CheckSuite) (*check.CheckSuite, error) {
			return CheckMachine(ctx, suite, prober)
		})
	})

	return r
}

type setupFunc func(ctx context.Context, suite *check.CheckSuite) (*check.CheckSuite, error)

func runChecks(w http.ResponseWriter, r *http.Request, name string, setup setupFunc) {
	ctx, cancel := context.WithTimeout(r.Context(), (5 * time.Second))
	defer cancel()

	suite := &check.CheckSuite{Name: name}
	suite, err := setup(ctx, suite)
	if err != nil {
		handleError(w, err)
		return
	}

	go func(ctx context.Context) {
		suite.Process(ctx)
		cancel()
	}(ctx)

	<-ctx.Done()

	handleCheckResponse(w, suite, false)
}

func handleCheckResponse(w http.ResponseWriter, suite *check.CheckSuite, raw bool) {
	if suite.ErrOnSetup != nil {
		handleError(w, suite.ErrOnSetup)
		return
	}
	var result string
	if raw {
		result = suite.RawResult()
	} else {
		result = suite.Result()
	}
	if !suite.Passed() {
		handleError(w, errors.New(result))
		return
	}
	if _, err := io.WriteString(w, result); err != nil {
		log.Printf("failed to handle check response: %s", err)
	}
}

func handleError(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusInternalServerError)
	if _, err := io.WriteString(w, err.Error()); err != nil {
		log.Printf("failed to handle check error: %s", err)
	}
}
