// Command ezshark runs the intercepting proxy engine: a loopback proxy
// listener (C9) handling plaintext HTTP/MITM HTTPS traffic (C7) under a
// restartable Supervisor, plus the operator command surface
// (internal/command) served on its own fixed loopback address,
// 127.0.0.1:8081. Flag set is the teacher's (src/main.go) extended with
// -log-dir/-session/-settings for the daily logs, multi-session
// transaction store and on-disk settings this engine adds.
package main

import (
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/ezshark/ezshark-go/internal/certauthority"
	"github.com/ezshark/ezshark-go/internal/command"
	"github.com/ezshark/ezshark-go/internal/engine"
	"github.com/ezshark/ezshark-go/internal/events"
	"github.com/ezshark/ezshark-go/internal/logging"
	"github.com/ezshark/ezshark-go/internal/pause"
	"github.com/ezshark/ezshark-go/internal/settings"
	"github.com/ezshark/ezshark-go/internal/txstore"
)

var (
	maxStoredEntries = 1000
)

func main() {
	var (
		listen      = flag.String("l", "127.0.0.1:8080", "proxy listen address; only the port is used, the proxy always binds 127.0.0.1")
		caDir       = flag.String("ca", "./ca", "directory to store the persistent CA cert and key")
		logDir      = flag.String("log-dir", "./logs", "directory for daily rotated log files")
		bufferSize  = flag.Int("buffer-size", maxStoredEntries, "maximum number of captured transactions kept (least recently used evicted first)")
		verbose     = flag.Bool("v", false, "enable verbose logging")
		session     = flag.String("session", "default", "session id to monitor traffic under at startup")
		settingsPath = flag.String("settings", "./settings.json", "path to the persisted settings file")
	)
	flag.Parse()

	now := time.Now()
	if err := logging.PurgePriorDays(*logDir, now); err != nil {
		log.Printf("warning: failed to purge old logs in %s: %v", *logDir, err)
	}
	logger, logFile, err := logging.OpenDaily(*logDir, now)
	if err != nil {
		log.Fatalf("failed to open daily log in %s: %v", *logDir, err)
	}
	defer logFile.Close()
	logger.SetVerbose(*verbose)

	if logger.Verbose() {
		logger.Debugf("flags: listen=%s ca=%s log-dir=%s buffer-size=%d session=%s settings=%s",
			*listen, *caDir, *logDir, *bufferSize, *session, *settingsPath)
	}

	ca, err := certauthority.Load(filepath.Join(*caDir, "cert.pem"), filepath.Join(*caDir, "key.pem"))
	if err != nil {
		logger.Errorf("failed to load CA: %v", err)
		os.Exit(1)
	}

	st := settings.Load(*settingsPath)
	store := txstore.New(*bufferSize)
	pr := pause.New()
	broker := events.NewBroker()

	spoolDir := filepath.Join(filepath.Dir(*settingsPath), "spool")
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		logger.Errorf("failed to create spool dir %s: %v", spoolDir, err)
		os.Exit(1)
	}

	pipeline := engine.NewPipeline(store, st, pr, broker, http.DefaultTransport, spoolDir, logger)
	pipeline.SetMonitorSession(*session)

	sup := engine.NewSupervisor(ca, pipeline, logger)

	dispatcher := command.New(sup, pr, broker, logger, spoolDir)
	if cfg := st.Get(); cfg.CharlesPath != "" {
		logger.Debugf("charles binary configured at %s", cfg.CharlesPath)
	}

	apiHandler := command.Handler(dispatcher)

	// The teacher binds a single combined host:port; Supervisor.Start
	// takes a bare port (loopback-only by design), so strip any host
	// prefix from -l.
	port, err := portFromAddr(*listen)
	if err != nil {
		logger.Errorf("invalid -l address %q: %v", *listen, err)
		os.Exit(1)
	}

	if err := sup.Start(port); err != nil {
		logger.Errorf("failed to start proxy on port %d: %v", port, err)
		os.Exit(1)
	}
	logger.Infof("proxy listening on port %d, monitoring session %q", sup.Port(), *session)

	apiAddr := "127.0.0.1:8081"
	apiServer := &http.Server{Addr: apiAddr, Handler: apiHandler}
	go func() {
		logger.Infof("command API listening on %s", apiAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("command API server error: %v", err)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	logger.Infof("shutting down")

	if err := sup.Stop(); err != nil {
		logger.Errorf("error stopping proxy: %v", err)
	}
	if err := apiServer.Close(); err != nil {
		logger.Errorf("error stopping command API: %v", err)
	}
}

// portFromAddr extracts the numeric port from a host:port address,
// defaulting to just parsing addr as a bare port if it has no host part.
func portFromAddr(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		portStr = addr
	}
	return strconv.Atoi(portStr)
}
