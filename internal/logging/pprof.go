package logging

import (
	"log/slog"
	"net/http"
	"time"

	_ "net/http/pprof" // handlers register on http.DefaultServeMux
)

// pprofAddr is loopback-only: the profiles expose window names and
// goroutine stacks, nothing a LAN peer should see.
const pprofAddr = "localhost:6060"

// startPprof serves profiling endpoints while the monitor runs. Gated
// behind the pprof_enabled config knob; hooks never reach this.
func startPprof() {
	srv := &http.Server{
		Addr:              pprofAddr,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		Logger().Info("pprof_listening", slog.String("addr", pprofAddr))
		if err := srv.ListenAndServe(); err != nil {
			Logger().Error("pprof_failed", slog.String("error", err.Error()))
		}
	}()
}
